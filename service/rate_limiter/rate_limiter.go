/*
 * @module service/rate_limiter/rate_limiter
 * @description 手动触发限流，按导入名计数的固定窗口
 * @architecture 工具层 - 提供限流能力
 * @stateFlow 构造窗口键 -> 计数 -> 判断是否超限
 * @rules 启用 Redis 时多实例共享计数，否则使用进程内计数
 * @dependencies github.com/go-redis/redis/v8, github.com/jonboulle/clockwork
 * @refs api/controllers/pipeline_controller.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed   bool  `json:"allowed"`   // 是否允许请求
	Limit     int   `json:"limit"`     // 限制数量
	Remaining int   `json:"remaining"` // 剩余数量
	ResetAt   int64 `json:"reset_at"`  // 重置时间（Unix时间戳）
}

// Limiter 限流器
type Limiter interface {
	Allow(ctx context.Context, target string) (*RateLimitResult, error)
}

func windowKey(target string, window time.Duration, now time.Time) (string, time.Time) {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	current := now.Unix() / secs
	resetAt := time.Unix((current+1)*secs, 0)
	return fmt.Sprintf("rate_limit:manual_trigger:%s:%d", target, current), resetAt
}

func result(count, limit int, resetAt time.Time) *RateLimitResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt.Unix(),
	}
}

// LocalRateLimiter 进程内限流
type LocalRateLimiter struct {
	limit  int
	window time.Duration
	clock  clockwork.Clock

	mu     sync.Mutex
	counts map[string]windowCount
}

type windowCount struct {
	key string
	n   int
}

// NewLocalRateLimiter limit<=0 表示不限流
func NewLocalRateLimiter(limit int, window time.Duration, clock clockwork.Clock) *LocalRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalRateLimiter{limit: limit, window: window, clock: clock, counts: make(map[string]windowCount)}
}

// Allow 实现 Limiter
func (l *LocalRateLimiter) Allow(_ context.Context, target string) (*RateLimitResult, error) {
	if l.limit <= 0 {
		return &RateLimitResult{Allowed: true, Limit: -1, Remaining: -1}, nil
	}
	key, resetAt := windowKey(target, l.window, l.clock.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counts[target]
	if c.key != key {
		c = windowCount{key: key}
	}
	if c.n >= l.limit {
		return result(l.limit+1, l.limit, resetAt), nil
	}
	c.n++
	l.counts[target] = c
	return result(c.n, l.limit, resetAt), nil
}
