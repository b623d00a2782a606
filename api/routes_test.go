package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"elt-service/service/config"
	"elt-service/service/coordinator"
	"elt-service/service/monitoring"
	"elt-service/service/orchestrator"
	"elt-service/service/pipeline"
	"elt-service/service/quality"
	"elt-service/service/rate_limiter"
	"elt-service/service/registry"
	"elt-service/service/sensor"
	"elt-service/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	mu   sync.Mutex
	reqs []orchestrator.TriggerRequest
}

func (f *fakeOrchestrator) Current() (registry.LoadResult, time.Time) {
	return registry.LoadResult{Definitions: []pipeline.Definition{{ImportName: "sales"}}}, time.Now()
}

func (f *fakeOrchestrator) Reload(context.Context) (registry.LoadResult, error) {
	res, _ := f.Current()
	return res, nil
}

func (f *fakeOrchestrator) TriggerImport(_ context.Context, req orchestrator.TriggerRequest) (orchestrator.TriggerResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	switch req.ImportName {
	case "missing":
		return orchestrator.TriggerResult{}, pipeline.ErrUnknownPipeline
	case "empty":
		return orchestrator.TriggerResult{}, pipeline.ErrNoInput
	}
	res := orchestrator.TriggerResult{Event: pipeline.TriggerEvent{
		Definition: pipeline.Definition{ImportName: req.ImportName},
		InputRef:   req.InputRef,
		Kind:       req.Kind,
	}}
	if req.Wait {
		res.Outcome = &pipeline.RunOutcome{ImportName: req.ImportName, Status: pipeline.RunStatusSuccess}
	}
	return res, nil
}

func (f *fakeOrchestrator) TriggerGroup(_ context.Context, groupName string, _ bool) ([]orchestrator.TriggerResult, error) {
	if groupName != "finance" {
		return nil, pipeline.ErrUnknownPipeline
	}
	return []orchestrator.TriggerResult{
		{Event: pipeline.TriggerEvent{Definition: pipeline.Definition{ImportName: "sales"}, Kind: pipeline.TriggerGroup}},
		{
			Event: pipeline.TriggerEvent{Definition: pipeline.Definition{ImportName: "returns"}, Kind: pipeline.TriggerGroup},
			Err:   &pipeline.SensorIOError{ImportName: "returns", Location: "/mnt/returns", Err: errors.New("open /mnt/returns: no such file or directory")},
		},
	}, nil
}

type healthy struct{}

func (healthy) Check(context.Context) monitoring.HealthStatus {
	return monitoring.HealthStatus{Overall: "healthy"}
}

type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
	Total  int64           `json:"total"`
}

func newRouter(t *testing.T) (http.Handler, *fakeOrchestrator, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	orch := &fakeOrchestrator{}
	r := chi.NewRouter()
	Mount(r, Dependencies{
		Health:       healthy{},
		Orchestrator: orch,
		Sensors:      func() []sensor.Status { return []sensor.Status{{ImportName: "sales", State: sensor.StateIdle}} },
		Limiter:      rate_limiter.NewLocalRateLimiter(2, time.Minute, nil),
		Runs:         coordinator.NewRunLogStore(tdb.DB),
		RuleResults:  quality.NewStore(tdb.DB),
		Configs:      config.NewConfigService(tdb.DB),
	})
	return r, orch, tdb
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestTriggerRoutes(t *testing.T) {
	h, orch, _ := newRouter(t)

	code, env := do(t, h, http.MethodPost, "/pipelines/sales/trigger", `{"input_ref": "/inbox/sales_0301.csv"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, string(env.Data), "/inbox/sales_0301.csv")

	code, env = do(t, h, http.MethodPost, "/pipelines/sales/trigger?wait=true", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"outcome"`)

	// 每个导入名每分钟最多两次
	code, _ = do(t, h, http.MethodPost, "/pipelines/sales/trigger", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = do(t, h, http.MethodPost, "/pipelines/missing/trigger", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, h, http.MethodPost, "/pipelines/empty/trigger", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, h, http.MethodPost, "/pipelines/other/trigger", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	require.Len(t, orch.reqs, 4)
	assert.Equal(t, pipeline.TriggerManual, orch.reqs[0].Kind)
	assert.True(t, orch.reqs[1].Wait)

	code, env = do(t, h, http.MethodPost, "/groups/finance/materialize", "")
	assert.Equal(t, http.StatusAccepted, code)
	var members []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &members))
	require.Len(t, members, 2)
	assert.NotContains(t, members[0], "error")
	assert.Equal(t, "被监视位置不可访问", members[1]["error"])
	assert.NotContains(t, string(env.Data), "/mnt/returns")
	code, _ = do(t, h, http.MethodPost, "/groups/hr/materialize", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunRoutes(t *testing.T) {
	h, _, tdb := newRouter(t)
	store := coordinator.NewRunLogStore(tdb.DB)
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, store.Write(context.Background(), pipeline.TriggerSensor, pipeline.RunOutcome{
			RunID:      id,
			ImportName: "sales",
			Status:     pipeline.RunStatusSuccess,
			StartedAt:  started.Add(time.Duration(i) * time.Hour),
			EndedAt:    started.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	code, env := do(t, h, http.MethodGet, "/runs?import_name=sales&page=1&size=2", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, env.Total)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 2)

	code, env = do(t, h, http.MethodGet, "/runs/run-2", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"run-2"`)

	code, _ = do(t, h, http.MethodGet, "/runs/run-404", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodGet, "/runs/run-1/rule-results", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestConfigAndStatusRoutes(t *testing.T) {
	h, _, _ := newRouter(t)

	code, _ := do(t, h, http.MethodPut, "/config/"+config.ConfigKeyRunLogRetentionDays, `{"value": "60"}`)
	assert.Equal(t, http.StatusOK, code)
	code, env := do(t, h, http.MethodGet, "/config/"+config.ConfigKeyRunLogRetentionDays, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"60"`)
	code, _ = do(t, h, http.MethodPut, "/config/"+config.ConfigKeyRunLogRetentionDays, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, h, http.MethodGet, "/sensors", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"sales"`)

	code, env = do(t, h, http.MethodGet, "/pipelines", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"definitions"`)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
