/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 */

package api

import (
	"elt-service/api/controllers"
	"elt-service/service"
	"elt-service/service/monitoring"
	"elt-service/service/rate_limiter"
	"elt-service/service/sensor"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Dependencies 路由依赖的服务
type Dependencies struct {
	Health       controllers.ReadinessChecker
	Orchestrator controllers.Orchestrator
	Sensors      func() []sensor.Status
	Limiter      rate_limiter.Limiter
	Runs         controllers.RunQuery
	RuleResults  controllers.RuleResultQuery
	Configs      controllers.ConfigStore
}

// InitRoute 使用全局服务初始化所有API路由
func InitRoute(r *chi.Mux) {
	Mount(r, Dependencies{
		Health:       service.GlobalHealthChecker,
		Orchestrator: service.GlobalOrchestrator,
		Sensors:      service.GlobalOrchestrator.SensorStatuses,
		Limiter:      service.GlobalRateLimiter,
		Runs:         service.GlobalRunLogs,
		RuleResults:  service.GlobalQualityStore,
		Configs:      service.GlobalConfigService,
	})
}

// Mount 注册中间件与路由
func Mount(r chi.Router, deps Dependencies) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(monitoring.Middleware)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(deps.Health)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	pipelineController := controllers.NewPipelineController(deps.Orchestrator, deps.Limiter)
	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", pipelineController.List)
		r.Post("/reload", pipelineController.Reload)
		r.Post("/{import_name}/trigger", pipelineController.Trigger)
	})
	r.Post("/groups/{group_name}/materialize", pipelineController.Materialize)

	runController := controllers.NewRunController(deps.Runs, deps.RuleResults)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", runController.List)
		r.Get("/{run_id}", runController.Get)
		r.Get("/{run_id}/rule-results", runController.RuleResults)
	})

	sensorController := controllers.NewSensorController(deps.Sensors)
	r.Get("/sensors", sensorController.List)

	configController := controllers.NewConfigController(deps.Configs)
	r.Route("/config", func(r chi.Router) {
		r.Get("/", configController.GetAllConfigs)
		r.Get("/{key}", configController.GetConfig)
		r.Put("/{key}", configController.UpdateConfig)
	})
}
