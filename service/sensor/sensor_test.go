package sensor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"elt-service/service/pipeline"
	"elt-service/service/storage"
	"elt-service/testutil"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocation struct {
	mu      sync.Mutex
	entries []storage.Entry
	err     error
	block   bool
}

func (f *fakeLocation) String() string { return "fake://inbox" }

func (f *fakeLocation) List(ctx context.Context) ([]storage.Entry, error) {
	f.mu.Lock()
	block, err := f.block, f.err
	out := append([]storage.Entry(nil), f.entries...)
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		// 模拟不响应取消的网络共享
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeLocation) put(name string, mod time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.Name == name {
			f.entries[i].ModTime = mod
			return
		}
	}
	f.entries = append(f.entries, storage.Entry{Ref: "fake://inbox/" + name, Name: name, ModTime: mod})
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []pipeline.TriggerEvent
	fail   error
	ch     chan pipeline.TriggerEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event pipeline.TriggerEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.events = append(d.events, event)
	if d.ch != nil {
		d.ch <- event
	}
	return nil
}

func (d *recordingDispatcher) refs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.InputRef)
	}
	return out
}

func salesDefinition() pipeline.Definition {
	return pipeline.Definition{
		ID:               "p1",
		ImportName:       "sales",
		FilePattern:      "sales_*.csv",
		ParserID:         "csv",
		StagingTable:     "stg_sales",
		DestinationTable: "dw_sales",
		TransformID:      "insert_from_staging",
		LoadMode:         pipeline.LoadModeReplace,
		Active:           true,
		Version:          1,
	}
}

func newTestSensor(t *testing.T, loc storage.Location, d Dispatcher, clock clockwork.Clock) *Sensor {
	t.Helper()
	s, err := New(Config{
		Logger:      slog.New(slog.DiscardHandler),
		Clock:       clock,
		Definition:  salesDefinition(),
		Location:    loc,
		Cursors:     NewMemoryCursorStore(),
		Dispatcher:  d,
		Interval:    time.Minute,
		ListTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestTick_DispatchesEachInputOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	base := clock.Now()

	loc := &fakeLocation{}
	loc.put("sales_0302.csv", base.Add(-time.Minute))
	loc.put("sales_0301.csv", base.Add(-time.Hour))
	loc.put("orders_0301.csv", base.Add(-time.Hour))
	disp := &recordingDispatcher{}
	s := newTestSensor(t, loc, disp, clock)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	// 按修改时间升序派发
	assert.Equal(t, []string{"fake://inbox/sales_0301.csv", "fake://inbox/sales_0302.csv"}, disp.refs())
	assert.Equal(t, pipeline.TriggerSensor, disp.events[0].Kind)
	assert.Equal(t, "sales", disp.events[0].Definition.ImportName)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, disp.refs(), 2)

	st := s.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.EqualValues(t, 2, st.Dispatched)
	assert.Empty(t, st.LastError)
}

func TestTick_SharesBatchIDWithinTick(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	loc := &fakeLocation{}
	loc.put("sales_0301.csv", clock.Now().Add(-time.Hour))
	loc.put("sales_0302.csv", clock.Now().Add(-time.Minute))
	disp := &recordingDispatcher{}
	s := newTestSensor(t, loc, disp, clock)

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, disp.events, 2)
	assert.NotEmpty(t, disp.events[0].BatchID)
	assert.Equal(t, disp.events[0].BatchID, disp.events[1].BatchID)

	clock.Advance(time.Minute)
	loc.put("sales_0303.csv", clock.Now())
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, disp.events, 3)
	assert.NotEqual(t, disp.events[0].BatchID, disp.events[2].BatchID)
}

func TestTick_ModTimeAdvanceRedispatches(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	loc := &fakeLocation{}
	loc.put("sales_0301.csv", clock.Now())
	disp := &recordingDispatcher{}
	s := newTestSensor(t, loc, disp, clock)

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	// 相同修改时间不再派发
	loc.put("sales_0301.csv", clock.Now())
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	loc.put("sales_0301.csv", clock.Now().Add(time.Second))
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, disp.refs(), 2)
}

func TestTick_FailedDispatchIsRetried(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	loc := &fakeLocation{}
	loc.put("sales_0301.csv", clock.Now())
	disp := &recordingDispatcher{fail: errors.New("queue full")}
	s := newTestSensor(t, loc, disp, clock)

	n, err := s.Tick(ctx)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, s.Status().LastError, "queue full")

	disp.mu.Lock()
	disp.fail = nil
	disp.mu.Unlock()

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTick_UnreachableLocation(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("list error", func(t *testing.T) {
		loc := &fakeLocation{err: errors.New("network share offline")}
		disp := &recordingDispatcher{}
		s := newTestSensor(t, loc, disp, clock)

		_, err := s.Tick(context.Background())
		var ioErr *pipeline.SensorIOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "sales", ioErr.ImportName)
		assert.Empty(t, disp.refs())
	})

	t.Run("list timeout", func(t *testing.T) {
		loc := &fakeLocation{block: true}
		disp := &recordingDispatcher{}
		s := newTestSensor(t, loc, disp, clock)

		start := time.Now()
		_, err := s.Tick(context.Background())
		var ioErr *pipeline.SensorIOError
		require.ErrorAs(t, err, &ioErr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, StateIdle, s.Status().State)
	})
}

func TestRun_PollsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	loc := &fakeLocation{}
	disp := &recordingDispatcher{ch: make(chan pipeline.TriggerEvent, 4)}
	s := newTestSensor(t, loc, disp, clock)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	loc.put("sales_0301.csv", clock.Now())
	clock.Advance(time.Minute)

	select {
	case ev := <-disp.ch:
		assert.Equal(t, "fake://inbox/sales_0301.csv", ev.InputRef)
	case <-time.After(5 * time.Second):
		t.Fatal("sensor did not poll after interval")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sensor did not stop")
	}
}

func TestNew_RequiresFields(t *testing.T) {
	_, err := New(Config{Definition: salesDefinition(), Interval: time.Second})
	require.Error(t, err)

	_, err = New(Config{
		Definition: salesDefinition(),
		Location:   &fakeLocation{},
		Cursors:    NewMemoryCursorStore(),
		Dispatcher: &recordingDispatcher{},
	})
	require.Error(t, err)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	loc := &fakeLocation{}

	_, err := Latest(ctx, loc, "sales_*.csv", time.Second)
	require.ErrorIs(t, err, pipeline.ErrNoInput)

	loc.put("sales_a.csv", now.Add(-time.Hour))
	loc.put("sales_b.csv", now)
	loc.put("orders.csv", now.Add(time.Hour))

	e, err := Latest(ctx, loc, "sales_*.csv", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sales_b.csv", e.Name)
}

func TestTick_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	mod := time.Now().Add(-time.Minute).Truncate(time.Second)
	testutil.WriteFile(t, dir, "sales_0301.csv", "id,amount\n1,10\n", mod)
	testutil.WriteFile(t, dir, "~$sales_0301.csv", "lock", mod)
	testutil.WriteFile(t, dir, "2024-03-01"+storage.FeedbackLogSuffix, "log", mod)

	disp := &recordingDispatcher{}
	s := newTestSensor(t, storage.LocalDir(dir), disp, clockwork.NewFakeClock())

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{filepath.Join(dir, "sales_0301.csv")}, disp.refs())
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("sales_*.csv", "sales_2024.csv"))
	assert.False(t, Matches("sales_*.csv", "sales_2024.xlsx"))
	assert.False(t, Matches("sales_[.csv", "sales_[.csv"))
}
