/*
 * @module service/distributed_lock/lock
 * @description 按目标表标识加锁的互斥区，保证同一目标表的清空-插入序列串行执行
 * @architecture 工具层 - 提供互斥能力
 * @stateFlow 按排序后的键依次获取 -> 执行 -> 逆序释放
 * @rules 获取过程可被 ctx 取消，取消时已获取的键全部释放；释放不依赖调用方 ctx 是否已过期
 */

package distributed_lock

import (
	"context"
	"sort"
)

// Locker 多键互斥
type Locker interface {
	// Acquire 获取所有键，返回释放函数；ctx 取消时返回 ctx.Err() 且不持有任何键
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// NormalizeKeys 去重并排序，固定加锁顺序以避免死锁
func NormalizeKeys(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Layered 先获取进程内锁再获取跨实例锁
type Layered struct {
	layers []Locker
}

// NewLayered 组合多个 Locker，按给定顺序获取
func NewLayered(layers ...Locker) *Layered {
	return &Layered{layers: layers}
}

// Acquire 实现 Locker
func (l *Layered) Acquire(ctx context.Context, keys []string) (func(), error) {
	releases := make([]func(), 0, len(l.layers))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, layer := range l.layers {
		release, err := layer.Acquire(ctx, keys)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// WithSection 在互斥区内执行 fn
func WithSection(ctx context.Context, locker Locker, keys []string, fn func() error) error {
	release, err := locker.Acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
