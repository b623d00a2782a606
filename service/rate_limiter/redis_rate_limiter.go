package rate_limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 原子地检查并计数
var allowScript = redis.NewScript(`
local key = KEYS[1]
local max_requests = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= max_requests then
	return {0, current}
end

local new_count = redis.call('INCR', key)
if new_count == 1 then
	redis.call('EXPIRE', key, window)
end
return {1, new_count}
`)

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Allow 实现 Limiter
func (r *RedisRateLimiter) Allow(ctx context.Context, target string) (*RateLimitResult, error) {
	if r.limit <= 0 {
		return &RateLimitResult{Allowed: true, Limit: -1, Remaining: -1}, nil
	}
	key, resetAt := windowKey(target, r.window, time.Now())
	secs := int64(r.window / time.Second)
	if secs <= 0 {
		secs = 1
	}

	res, err := allowScript.Run(ctx, r.client, []string{key}, r.limit, secs).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("限流脚本返回值异常: %v", res)
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	if allowed != 1 {
		return result(r.limit+1, r.limit, resetAt), nil
	}
	return result(int(count), r.limit, resetAt), nil
}
