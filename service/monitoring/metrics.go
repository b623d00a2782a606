/*
 * @module service/monitoring/metrics
 * @description Prometheus 指标：运行结果、质量规则、传感器、互斥区等待、HTTP 请求
 * @architecture 基础设施层 - 可观测性
 * @dependencies github.com/prometheus/client_golang
 */

package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_runs_total",
			Help: "Total number of finished pipeline runs",
		},
		[]string{"import_name", "status", "stage"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elt_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"import_name"},
	)

	RowsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_rows_staged_total",
			Help: "Rows appended to staging tables",
		},
		[]string{"import_name"},
	)

	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elt_runs_in_flight",
			Help: "Number of runs currently executing",
		},
	)

	RuleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_quality_rule_results_total",
			Help: "Quality rule evaluations by outcome",
		},
		[]string{"table", "status"},
	)

	SensorTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_sensor_ticks_total",
			Help: "Sensor poll ticks by result",
		},
		[]string{"import_name", "result"},
	)

	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "elt_destination_lock_wait_seconds",
			Help:    "Time spent waiting for the per-destination exclusive section",
			Buckets: prometheus.DefBuckets,
		},
	)

	LifecycleSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_lifecycle_switches_total",
			Help: "Lifecycle self-transitions by result",
		},
		[]string{"result"},
	)

	RegistryRejectedRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elt_registry_rejected_rows",
			Help: "Config rows rejected by the last registry load",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterDispatcherGauges 暴露调度池的执行中与排队数量
func RegisterDispatcherGauges(running func() int64, waiting func() uint64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "elt_dispatcher_running",
		Help: "Runs currently held by the dispatcher pool",
	}, func() float64 { return float64(running()) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "elt_dispatcher_waiting",
		Help: "Trigger events queued for a free worker",
	}, func() float64 { return float64(waiting()) })
}

// Middleware 记录 HTTP 指标
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
