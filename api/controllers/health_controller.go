/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活与就绪检查
 * @architecture MVC架构 - 控制器层
 * @stateFlow HTTP请求处理流程
 * @rules 存活检查不访问依赖；就绪检查执行全部注册的依赖检查
 * @dependencies github.com/go-chi/render
 * @refs service/monitoring/health_checker.go
 */

package controllers

import (
	"context"
	"net/http"
	"time"

	"elt-service/service/monitoring"

	"github.com/go-chi/render"
)

// ReadinessChecker 就绪检查
type ReadinessChecker interface {
	Check(ctx context.Context) monitoring.HealthStatus
}

// HealthController 健康检查控制器
type HealthController struct {
	checker ReadinessChecker
}

// NewHealthController 创建健康检查控制器实例
func NewHealthController(checker ReadinessChecker) *HealthController {
	return &HealthController{checker: checker}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string    `json:"version" example:"1.0.0"`
	Service   string    `json:"service" example:"elt-service"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "elt-service",
	})
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查数据库等依赖是否可用
// @Tags 系统
// @Produce json
// @Success 200 {object} monitoring.HealthStatus
// @Failure 503 {object} monitoring.HealthStatus
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	status := c.checker.Check(r.Context())
	if status.Overall != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
