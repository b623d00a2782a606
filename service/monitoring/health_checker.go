/*
 * @module service/monitoring/health_checker
 * @description 健康检查器，检查数据库连接与各依赖组件状态
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 注册检查项 -> 逐项检测 -> 汇总状态
 */

package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// CheckFunc 单项健康检查
type CheckFunc func(ctx context.Context) error

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // healthy, unhealthy
	Message string `json:"message,omitempty"`
}

// HealthStatus 整体健康状态
type HealthStatus struct {
	Overall    string            `json:"overall"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthChecker 健康检查器
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{checks: make(map[string]CheckFunc), timeout: timeout}
}

// Register 注册检查项
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	h.checks[name] = fn
	h.mu.Unlock()
}

// DatabaseCheck 数据库连接检查
func DatabaseCheck(db *gorm.DB) CheckFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// Check 执行全部检查
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{Overall: "healthy", Timestamp: time.Now()}
	for _, name := range names {
		h.mu.RLock()
		fn := h.checks[name]
		h.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := fn(cctx)
		cancel()

		c := ComponentHealth{Name: name, Status: "healthy"}
		if err != nil {
			c.Status = "unhealthy"
			c.Message = err.Error()
			status.Overall = "unhealthy"
		}
		status.Components = append(status.Components, c)
	}
	return status
}
