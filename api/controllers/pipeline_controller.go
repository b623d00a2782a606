/*
 * @module api/controllers/pipeline_controller
 * @description 管道定义查询、重载、手动触发与整组物化接口
 * @architecture RESTful API架构
 * @stateFlow HTTP请求 -> 限流 -> 编排器 -> 调度器
 * @rules 手动触发按导入名限流；wait=true 时同步返回运行结果
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/orchestrator, service/rate_limiter
 */

package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"elt-service/service/coordinator"
	"elt-service/service/orchestrator"
	"elt-service/service/pipeline"
	"elt-service/service/rate_limiter"
	"elt-service/service/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Orchestrator 控制器使用的编排能力
type Orchestrator interface {
	Current() (registry.LoadResult, time.Time)
	Reload(ctx context.Context) (registry.LoadResult, error)
	TriggerImport(ctx context.Context, req orchestrator.TriggerRequest) (orchestrator.TriggerResult, error)
	TriggerGroup(ctx context.Context, groupName string, wait bool) ([]orchestrator.TriggerResult, error)
}

// PipelineController 管道控制器
type PipelineController struct {
	orch    Orchestrator
	limiter rate_limiter.Limiter
}

// NewPipelineController 创建管道控制器
func NewPipelineController(orch Orchestrator, limiter rate_limiter.Limiter) *PipelineController {
	return &PipelineController{orch: orch, limiter: limiter}
}

// PipelineListResponse 当前生效的定义与被拒绝的配置行
type PipelineListResponse struct {
	LoadedAt    time.Time                         `json:"loaded_at"`
	Definitions []pipeline.Definition             `json:"definitions"`
	Rejected    []*pipeline.ConfigValidationError `json:"rejected"`
}

// TriggerRequest 手动触发请求
type TriggerRequest struct {
	InputRef string `json:"input_ref" example:"/data/inbox/sales_20240101.csv"`
}

// TriggerResponse 触发结果
type TriggerResponse struct {
	ImportName string               `json:"import_name"`
	InputRef   string               `json:"input_ref"`
	Kind       pipeline.TriggerKind `json:"kind"`
	Outcome    *pipeline.RunOutcome `json:"outcome,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func toTriggerResponse(res orchestrator.TriggerResult) TriggerResponse {
	out := TriggerResponse{
		ImportName: res.Event.Definition.ImportName,
		InputRef:   res.Event.InputRef,
		Kind:       res.Event.Kind,
		Outcome:    res.Outcome,
	}
	if res.Err != nil {
		_, out.Error = triggerErrorStatus(res.Err)
	}
	return out
}

// List 获取当前生效的管道定义
// @Summary 获取管道定义
// @Description 返回最近一次加载的启用定义及被拒绝的配置行
// @Tags 管道
// @Produce json
// @Success 200 {object} APIResponse{data=PipelineListResponse}
// @Router /pipelines [get]
func (c *PipelineController) List(w http.ResponseWriter, r *http.Request) {
	res, loadedAt := c.orch.Current()
	render.JSON(w, r, SuccessResponse("获取管道定义成功", PipelineListResponse{
		LoadedAt:    loadedAt,
		Definitions: res.Definitions,
		Rejected:    res.Errors,
	}))
}

// Reload 重新加载管道定义
// @Summary 重载管道定义
// @Description 重新读取配置表并调整传感器
// @Tags 管道
// @Produce json
// @Success 200 {object} APIResponse{data=PipelineListResponse}
// @Failure 500 {object} APIResponse
// @Router /pipelines/reload [post]
func (c *PipelineController) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := c.orch.Reload(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "重载管道定义失败")
		return
	}
	render.JSON(w, r, SuccessResponse("重载管道定义成功", PipelineListResponse{
		LoadedAt:    time.Now(),
		Definitions: res.Definitions,
		Rejected:    res.Errors,
	}))
}

// Trigger 手动触发导入
// @Summary 手动触发导入
// @Description 未提供 input_ref 时使用被监视位置中最新的匹配输入
// @Tags 管道
// @Accept json
// @Produce json
// @Param import_name path string true "导入名"
// @Param wait query bool false "是否等待运行结束"
// @Param request body TriggerRequest false "触发请求"
// @Success 200 {object} APIResponse{data=TriggerResponse}
// @Success 202 {object} APIResponse{data=TriggerResponse}
// @Failure 404 {object} APIResponse
// @Failure 429 {object} APIResponse
// @Router /pipelines/{import_name}/trigger [post]
func (c *PipelineController) Trigger(w http.ResponseWriter, r *http.Request) {
	importName := chi.URLParam(r, "import_name")
	var req TriggerRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "请求参数格式错误")
			return
		}
	}
	if !c.allow(w, r, importName) {
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	res, err := c.orch.TriggerImport(r.Context(), orchestrator.TriggerRequest{
		ImportName: importName,
		InputRef:   req.InputRef,
		Kind:       pipeline.TriggerManual,
		Wait:       wait,
	})
	if err != nil {
		writeTriggerError(w, r, err)
		return
	}
	if !wait {
		render.Status(r, http.StatusAccepted)
	}
	render.JSON(w, r, SuccessResponse("触发成功", toTriggerResponse(res)))
}

// Materialize 整组物化
// @Summary 整组物化
// @Description 组内每个导入取最新输入各自运行，replace 目标按整组范围清空
// @Tags 管道
// @Produce json
// @Param group_name path string true "组名"
// @Param wait query bool false "是否等待运行结束"
// @Success 200 {object} APIResponse{data=[]TriggerResponse}
// @Success 202 {object} APIResponse{data=[]TriggerResponse}
// @Failure 404 {object} APIResponse
// @Router /groups/{group_name}/materialize [post]
func (c *PipelineController) Materialize(w http.ResponseWriter, r *http.Request) {
	groupName := chi.URLParam(r, "group_name")
	if !c.allow(w, r, "group:"+groupName) {
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	results, err := c.orch.TriggerGroup(r.Context(), groupName, wait)
	if err != nil {
		writeTriggerError(w, r, err)
		return
	}
	out := make([]TriggerResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toTriggerResponse(res))
	}
	if !wait {
		render.Status(r, http.StatusAccepted)
	}
	render.JSON(w, r, SuccessResponse("整组物化已触发", out))
}

func (c *PipelineController) allow(w http.ResponseWriter, r *http.Request, target string) bool {
	if c.limiter == nil {
		return true
	}
	res, err := c.limiter.Allow(r.Context(), target)
	if err != nil {
		// 限流不可用时不阻断手动触发
		return true
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))
		writeError(w, r, http.StatusTooManyRequests, "触发过于频繁，请稍后再试")
		return false
	}
	return true
}

func writeTriggerError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := triggerErrorStatus(err)
	writeError(w, r, status, msg)
}

// triggerErrorStatus 错误原文只写日志，对外只给状态码和固定文案
func triggerErrorStatus(err error) (int, string) {
	var ioErr *pipeline.SensorIOError
	switch {
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		return http.StatusNotFound, "管道不存在或未启用"
	case errors.Is(err, pipeline.ErrNoInput):
		return http.StatusNotFound, "没有可导入的输入"
	case errors.As(err, &ioErr):
		return http.StatusBadGateway, "被监视位置不可访问"
	case errors.Is(err, coordinator.ErrDispatcherStopped):
		return http.StatusServiceUnavailable, "服务正在停止"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "等待运行结果超时，运行仍在继续"
	default:
		return http.StatusInternalServerError, "触发失败"
	}
}
