package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elt-service/api"
	_ "elt-service/docs"
	"elt-service/logger"
	"elt-service/service"
	"elt-service/service/config"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title ELT 管道编排服务 API
// @version 1.0
// @description 文件到数仓的管道编排：传感器触发、质量门、去重、转换与生命周期切换
// @BasePath /
func main() {
	log := logger.InitLogger()
	settings := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Init(ctx, settings, log); err != nil {
		log.Error("服务初始化失败", "error", err)
		os.Exit(1)
	}

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if settings.BaseContext != "" {
		mux.Route(settings.BaseContext, func(r chi.Router) {
			subMux := r.(*chi.Mux)
			api.InitRoute(subMux)
			r.Handle("/metrics", promhttp.Handler())
			r.Handle("/swagger*", httpSwagger.WrapHandler)
		})
	} else {
		api.InitRoute(mux)
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/swagger*", httpSwagger.WrapHandler)
	}

	s := daprd.NewServiceWithMux(":"+settings.ListenPort, mux)
	go func() {
		<-ctx.Done()
		log.Info("收到停止信号，正在关闭服务")
		if err := s.GracefulStop(); err != nil {
			log.Warn("HTTP服务关闭失败", "error", err)
		}
	}()

	if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("HTTP服务异常退出", "error", err)
	}

	done := make(chan struct{})
	go func() {
		service.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Minute):
		log.Warn("等待运行结束超时，强制退出")
	}
}
