package lifecycle

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestBatchTracker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	b := NewBatchTracker(clock, time.Hour)

	assert.False(t, b.Cleared("sales@1", "dw_sales"))
	b.MarkCleared("sales@1", "dw_sales")
	assert.True(t, b.Cleared("sales@1", "dw_sales"))
	assert.False(t, b.Cleared("sales@1", "dw_returns"))
	assert.False(t, b.Cleared("sales@2", "dw_sales"))

	// 无批次标识的输入各自独立
	b.MarkCleared("", "dw_sales")
	assert.False(t, b.Cleared("", "dw_sales"))
	assert.Equal(t, 1, b.Len())

	clock.Advance(time.Hour)
	assert.False(t, b.Cleared("sales@1", "dw_sales"))
	b.MarkCleared("sales@2", "dw_sales")
	assert.Equal(t, 1, b.Len())
}
