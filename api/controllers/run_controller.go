package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"elt-service/service/coordinator"
	"elt-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// RunQuery 运行日志查询
type RunQuery interface {
	List(ctx context.Context, f coordinator.RunFilter) ([]models.RunLog, int64, error)
	Get(ctx context.Context, runID string) (*models.RunLog, error)
}

// RuleResultQuery 规则结果查询
type RuleResultQuery interface {
	ResultsForRun(ctx context.Context, runID string) ([]models.RuleResultRecord, error)
}

// RunController 运行日志控制器
type RunController struct {
	runs    RunQuery
	results RuleResultQuery
}

// NewRunController 创建运行日志控制器
func NewRunController(runs RunQuery, results RuleResultQuery) *RunController {
	return &RunController{runs: runs, results: results}
}

// List 分页查询运行日志
// @Summary 查询运行日志
// @Tags 运行
// @Produce json
// @Param import_name query string false "导入名"
// @Param status query string false "状态" Enums(RUNNING, SUCCESS, FAILURE)
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(20)
// @Success 200 {object} PaginatedResponse{data=[]models.RunLog}
// @Failure 500 {object} APIResponse
// @Router /runs [get]
func (c *RunController) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 || size > 200 {
		size = 20
	}
	rows, total, err := c.runs.List(r.Context(), coordinator.RunFilter{
		ImportName: r.URL.Query().Get("import_name"),
		Status:     r.URL.Query().Get("status"),
		Page:       page,
		Size:       size,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "查询运行日志失败")
		return
	}
	render.JSON(w, r, PaginatedResponse{
		Status: 0,
		Msg:    "查询运行日志成功",
		Data:   rows,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// Get 查询单次运行
// @Summary 查询单次运行
// @Tags 运行
// @Produce json
// @Param run_id path string true "运行标识"
// @Success 200 {object} APIResponse{data=models.RunLog}
// @Failure 404 {object} APIResponse
// @Router /runs/{run_id} [get]
func (c *RunController) Get(w http.ResponseWriter, r *http.Request) {
	row, err := c.runs.Get(r.Context(), chi.URLParam(r, "run_id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, r, http.StatusNotFound, "运行不存在")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "查询运行失败")
		return
	}
	render.JSON(w, r, SuccessResponse("查询运行成功", row))
}

// RuleResults 查询运行的质量规则结果
// @Summary 查询质量规则结果
// @Tags 运行
// @Produce json
// @Param run_id path string true "运行标识"
// @Success 200 {object} APIResponse{data=[]models.RuleResultRecord}
// @Failure 500 {object} APIResponse
// @Router /runs/{run_id}/rule-results [get]
func (c *RunController) RuleResults(w http.ResponseWriter, r *http.Request) {
	rows, err := c.results.ResultsForRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "查询规则结果失败")
		return
	}
	render.JSON(w, r, SuccessResponse("查询规则结果成功", rows))
}
