package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"elt-service/service/pipeline"
	"elt-service/service/registry"
	"elt-service/service/sensor"
	"elt-service/service/storage"
	"elt-service/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	mu  sync.Mutex
	res registry.LoadResult
	err error
}

func (l *staticLoader) LoadActive(context.Context) (registry.LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.res, l.err
}

func (l *staticLoader) set(defs ...pipeline.Definition) {
	l.mu.Lock()
	l.res = registry.LoadResult{Definitions: defs}
	l.mu.Unlock()
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []pipeline.TriggerEvent
}

func (d *fakeDispatcher) Dispatch(_ context.Context, event pipeline.TriggerEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *fakeDispatcher) DispatchAndWait(ctx context.Context, event pipeline.TriggerEvent) (pipeline.RunOutcome, error) {
	if err := d.Dispatch(ctx, event); err != nil {
		return pipeline.RunOutcome{}, err
	}
	return pipeline.RunOutcome{ImportName: event.Definition.ImportName, InputRef: event.InputRef, Status: pipeline.RunStatusSuccess}, nil
}

func (d *fakeDispatcher) snapshot() []pipeline.TriggerEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]pipeline.TriggerEvent(nil), d.events...)
}

func definition(importName, group, dir string, mode pipeline.LoadMode) pipeline.Definition {
	return pipeline.Definition{
		ID:               importName + "-id",
		GroupName:        group,
		ImportName:       importName,
		FilePattern:      importName + "_*.csv",
		WatchedLocation:  dir,
		ParserID:         "csv",
		StagingTable:     "stg_" + importName,
		DestinationTable: "dw_" + importName,
		TransformID:      "insert_from_staging",
		LoadMode:         mode,
		Active:           true,
		Version:          1,
	}
}

func newOrchestrator(t *testing.T, loader Loader, disp Dispatcher) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Logger:       slog.New(slog.DiscardHandler),
		Loader:       loader,
		Locator:      storage.NewResolver(nil),
		Cursors:      sensor.NewMemoryCursorStore(),
		Dispatcher:   disp,
		PollInterval: time.Hour,
		ListTimeout:  time.Second,
	})
	require.NoError(t, err)
	return o
}

func TestTriggerImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Now()
	testutil.WriteFile(t, dir, "sales_0301.csv", "id\n1\n", now.Add(-2*time.Hour))
	newest := testutil.WriteFile(t, dir, "sales_0302.csv", "id\n2\n", now.Add(-time.Hour))
	testutil.WriteFile(t, dir, "orders_0303.csv", "id\n3\n", now)

	loader := &staticLoader{}
	loader.set(definition("sales", "finance", dir, pipeline.LoadModeReplace), definition("empty", "finance", t.TempDir(), pipeline.LoadModeReplace))
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, loader, disp)

	res, err := o.TriggerImport(ctx, TriggerRequest{ImportName: "sales"})
	require.NoError(t, err)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, newest, res.Event.InputRef)
	assert.Equal(t, pipeline.TriggerManual, res.Event.Kind)

	res, err = o.TriggerImport(ctx, TriggerRequest{ImportName: "sales", InputRef: "/elsewhere/custom.csv", Wait: true})
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "/elsewhere/custom.csv", res.Outcome.InputRef)
	assert.Len(t, disp.snapshot(), 2)

	_, err = o.TriggerImport(ctx, TriggerRequest{ImportName: "missing"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownPipeline)

	_, err = o.TriggerImport(ctx, TriggerRequest{ImportName: "empty"})
	assert.ErrorIs(t, err, pipeline.ErrNoInput)
}

func TestTriggerImport_UnreachableLocation(t *testing.T) {
	loader := &staticLoader{}
	loader.set(definition("sales", "finance", filepath.Join(t.TempDir(), "gone"), pipeline.LoadModeReplace))
	o := newOrchestrator(t, loader, &fakeDispatcher{})

	_, err := o.TriggerImport(context.Background(), TriggerRequest{ImportName: "sales"})
	var ioErr *pipeline.SensorIOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestTriggerImport_LoaderError(t *testing.T) {
	loader := &staticLoader{err: errors.New("connection refused")}
	o := newOrchestrator(t, loader, &fakeDispatcher{})
	_, err := o.TriggerImport(context.Background(), TriggerRequest{ImportName: "sales"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestTriggerGroup(t *testing.T) {
	ctx := context.Background()
	salesDir, returnsDir := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, salesDir, "sales_0301.csv", "id\n1\n", time.Now())
	testutil.WriteFile(t, returnsDir, "returns_0301.csv", "id\n1\n", time.Now())

	loader := &staticLoader{}
	loader.set(
		definition("sales", "finance", salesDir, pipeline.LoadModeReplace),
		definition("returns", "finance", returnsDir, pipeline.LoadModeAppend),
		definition("ledger", "finance", t.TempDir(), pipeline.LoadModeReplace),
		definition("staff", "hr", t.TempDir(), pipeline.LoadModeReplace),
	)
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, loader, disp)

	results, err := o.TriggerGroup(ctx, "finance", true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	events := disp.snapshot()
	require.Len(t, events, 2)
	names := []string{events[0].Definition.ImportName, events[1].Definition.ImportName}
	sort.Strings(names)
	assert.Equal(t, []string{"returns", "sales"}, names)
	for _, ev := range events {
		assert.Equal(t, pipeline.TriggerGroup, ev.Kind)
		assert.Len(t, ev.GroupMembers, 3)
	}
	for _, r := range results {
		require.NotNil(t, r.Outcome)
	}

	_, err = o.TriggerGroup(ctx, "unknown", false)
	assert.ErrorIs(t, err, pipeline.ErrUnknownPipeline)

	_, err = o.TriggerGroup(ctx, "hr", false)
	assert.ErrorIs(t, err, pipeline.ErrNoInput)
}

func TestTriggerGroup_UnreachableMemberDoesNotAbortGroup(t *testing.T) {
	ctx := context.Background()
	salesDir := t.TempDir()
	testutil.WriteFile(t, salesDir, "sales_0301.csv", "id\n1\n", time.Now())

	loader := &staticLoader{}
	loader.set(
		definition("sales", "finance", salesDir, pipeline.LoadModeReplace),
		definition("returns", "finance", filepath.Join(t.TempDir(), "gone"), pipeline.LoadModeReplace),
	)
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, loader, disp)

	results, err := o.TriggerGroup(ctx, "finance", true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := make(map[string]TriggerResult)
	for _, r := range results {
		byName[r.Event.Definition.ImportName] = r
	}
	require.NoError(t, byName["sales"].Err)
	require.NotNil(t, byName["sales"].Outcome)
	var ioErr *pipeline.SensorIOError
	require.ErrorAs(t, byName["returns"].Err, &ioErr)
	assert.Equal(t, "returns", ioErr.ImportName)
	assert.Nil(t, byName["returns"].Outcome)

	events := disp.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "sales", events[0].Definition.ImportName)

	// 所有成员都失败时返回错误和逐成员结果
	loader.set(definition("returns", "finance", filepath.Join(t.TempDir(), "gone"), pipeline.LoadModeReplace))
	results, err = o.TriggerGroup(ctx, "finance", false)
	require.ErrorAs(t, err, &ioErr)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestReloadManagesSensors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "sales_0301.csv", "id\n1\n", time.Now())

	sales := definition("sales", "finance", dir, pipeline.LoadModeReplace)
	unwatched := definition("manual_only", "finance", "", pipeline.LoadModeReplace)
	loader := &staticLoader{}
	loader.set(sales, unwatched)
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, loader, disp)

	var reloads []registry.LoadResult
	var mu sync.Mutex
	o.OnReload(func(r registry.LoadResult) {
		mu.Lock()
		reloads = append(reloads, r)
		mu.Unlock()
	})

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	statuses := o.SensorStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "sales", statuses[0].ImportName)

	// 传感器启动后立即轮询一次
	assert.Eventually(t, func() bool { return len(disp.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, pipeline.TriggerSensor, disp.snapshot()[0].Kind)

	current, loadedAt := o.Current()
	assert.Empty(t, cmp.Diff([]pipeline.Definition{sales, unwatched}, current.Definitions))
	assert.False(t, loadedAt.IsZero())

	changed := sales
	changed.FilePattern = "sales_v2_*.csv"
	loader.set(changed)
	_, err := o.Reload(ctx)
	require.NoError(t, err)
	statuses = o.SensorStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "sales_v2_*.csv", statuses[0].Pattern)

	loader.set()
	_, err = o.Reload(ctx)
	require.NoError(t, err)
	assert.Empty(t, o.SensorStatuses())

	mu.Lock()
	assert.Len(t, reloads, 3)
	mu.Unlock()
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
