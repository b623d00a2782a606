package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"elt-service/service/orchestrator"
	"elt-service/service/pipeline"
	"elt-service/service/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTrigger struct {
	mu   sync.Mutex
	reqs []orchestrator.TriggerRequest
	err  error
}

func (r *recordingTrigger) TriggerImport(_ context.Context, req orchestrator.TriggerRequest) (orchestrator.TriggerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return orchestrator.TriggerResult{}, r.err
}

func load(defs ...pipeline.Definition) registry.LoadResult {
	return registry.LoadResult{Definitions: defs}
}

func TestSync(t *testing.T) {
	s := NewSchedulerService(context.Background(), &recordingTrigger{}, slog.New(slog.DiscardHandler))

	s.Sync(load(
		pipeline.Definition{ImportName: "sales", ScheduleCron: "0 0 6 * * *"},
		pipeline.Definition{ImportName: "returns", ScheduleCron: "@hourly"},
		pipeline.Definition{ImportName: "manual"},
		pipeline.Definition{ImportName: "broken", ScheduleCron: "every day"},
	))
	assert.Equal(t, map[string]string{"sales": "0 0 6 * * *", "returns": "@hourly"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 2)

	s.Sync(load(
		pipeline.Definition{ImportName: "sales", ScheduleCron: "0 30 6 * * *"},
	))
	assert.Equal(t, map[string]string{"sales": "0 30 6 * * *"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 1)

	s.Sync(load())
	assert.Empty(t, s.Scheduled())
	assert.Empty(t, s.cron.Entries())
}

func TestFire(t *testing.T) {
	trigger := &recordingTrigger{}
	s := NewSchedulerService(context.Background(), trigger, slog.New(slog.DiscardHandler))

	s.fire("sales")
	trigger.err = pipeline.ErrNoInput
	s.fire("sales")

	require.Len(t, trigger.reqs, 2)
	assert.Equal(t, "sales", trigger.reqs[0].ImportName)
	assert.Equal(t, pipeline.TriggerSchedule, trigger.reqs[0].Kind)
	assert.Empty(t, trigger.reqs[0].InputRef)
}
