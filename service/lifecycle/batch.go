package lifecycle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type batchKey struct {
	batchID string
	table   string
}

// BatchTracker 记录同一批次中已经清空过的目标表
// 一次轮询发现多个输入时，replace 管道只在第一个输入清空目标表，其余输入追加
type BatchTracker struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	cleared map[batchKey]time.Time
}

// NewBatchTracker ttl 之后批次记录过期
func NewBatchTracker(clock clockwork.Clock, ttl time.Duration) *BatchTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &BatchTracker{clock: clock, ttl: ttl, cleared: make(map[batchKey]time.Time)}
}

// Cleared 该批次是否已清空过 table
func (b *BatchTracker) Cleared(batchID, table string) bool {
	if batchID == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.cleared[batchKey{batchID, table}]
	return ok && b.clock.Since(at) < b.ttl
}

// MarkCleared 记录清空并淘汰过期批次
func (b *BatchTracker) MarkCleared(batchID, table string) {
	if batchID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for k, at := range b.cleared {
		if now.Sub(at) >= b.ttl {
			delete(b.cleared, k)
		}
	}
	b.cleared[batchKey{batchID, table}] = now
}

// Len 未过期与待淘汰的记录数
func (b *BatchTracker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cleared)
}
