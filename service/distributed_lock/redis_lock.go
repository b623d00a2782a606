/*
 * @module service/distributed_lock/redis_lock
 * @description Redis分布式锁实现，多实例部署时对同一目标表的写入互斥
 * @architecture 工具层 - 提供分布式锁能力
 * @stateFlow 获取锁 -> 定期续期 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现，值为本次获取的令牌，只有持有者才能续期和释放
 * @dependencies github.com/go-redis/redis/v8, github.com/cenkalti/backoff/v4
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "elt:destination-lock:"

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const refreshScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOptions Redis 锁配置
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisLock 创建Redis分布式锁并测试连接
func NewRedisLock(opts RedisOptions, logger *slog.Logger) (*RedisLock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	logger.Info("Redis分布式锁初始化成功", "redis_addr", opts.Addr)
	return &RedisLock{client: client, ttl: opts.TTL, logger: logger}, nil
}

// TryLock 尝试获取锁
func (r *RedisLock) TryLock(ctx context.Context, key, token string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	return ok, nil
}

// Unlock 释放锁，仅当令牌匹配
func (r *RedisLock) Unlock(ctx context.Context, key, token string) error {
	res, err := r.client.Eval(ctx, unlockScript, []string{keyPrefix + key}, token).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if res == 0 {
		r.logger.Warn("分布式锁: 锁不存在或已被其他实例持有", "key", key)
	}
	return nil
}

// Refresh 续期
func (r *RedisLock) Refresh(ctx context.Context, key, token string) error {
	res, err := r.client.Eval(ctx, refreshScript, []string{keyPrefix + key}, token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("刷新锁失败: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("锁 %s 不存在或已被其他实例持有", key)
	}
	return nil
}

// Acquire 实现 Locker：轮询直到全部获取或 ctx 取消，持有期间后台续期
func (r *RedisLock) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = NormalizeKeys(keys)
	token := uuid.NewString()
	var held []string

	unlockHeld := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := r.Unlock(rctx, held[i], token); err != nil {
				r.logger.Error("分布式锁: 释放锁失败", "key", held[i], "error", err)
			}
		}
	}

	for _, key := range keys {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxInterval = 2 * time.Second
		bo.MaxElapsedTime = 0
		err := backoff.Retry(func() error {
			ok, err := r.TryLock(ctx, key, token)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("lock %s busy", key)
			}
			return nil
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			unlockHeld()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		held = append(held, key)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, key := range held {
					if err := r.Refresh(context.WithoutCancel(ctx), key, token); err != nil {
						r.logger.Error("分布式锁: 续期失败", "key", key, "error", err)
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			unlockHeld()
		})
	}, nil
}

// Close 关闭Redis客户端
func (r *RedisLock) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client 底层 Redis 客户端，供限流等组件复用连接
func (r *RedisLock) Client() *redis.Client {
	return r.client
}
