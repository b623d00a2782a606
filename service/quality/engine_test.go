package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"elt-service/service/models"
	"elt-service/service/pipeline"
	"elt-service/service/warehouse"
	"elt-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
}

func TestEvaluateRules_StatusMapping(t *testing.T) {
	rules := []pipeline.Rule{
		{ID: "r1", Kind: pipeline.CheckNotNull, Column: "amount", Severity: pipeline.SeverityFail, Active: true},
		{ID: "r2", Kind: pipeline.CheckUnique, Column: "id", Severity: pipeline.SeverityWarn, Active: true},
		{ID: "r3", Kind: pipeline.CheckInSet, Column: "region", Severity: pipeline.SeverityFail, Active: true},
		{ID: "r4", Kind: pipeline.CheckCustom, Severity: pipeline.SeverityFail, Active: true},
		{ID: "r5", Kind: pipeline.CheckNotNull, Column: "id", Severity: pipeline.SeverityFail, Active: false},
	}
	counts := map[string]int64{"r1": 3, "r2": 2, "r3": 0}
	counter := CounterFunc(func(_ context.Context, rule pipeline.Rule, _, _ string) (int64, error) {
		if rule.ID == "r4" {
			return 0, errors.New("no such column: foo")
		}
		return counts[rule.ID], nil
	})

	results := EvaluateRules(context.Background(), rules, "stg_sales", "run-1", counter, slog.New(slog.DiscardHandler), fixedNow)
	require.Len(t, results, 4)

	assert.Equal(t, pipeline.RuleStatusFail, results[0].Status)
	assert.EqualValues(t, 3, results[0].FailingCount)
	assert.Equal(t, pipeline.RuleStatusWarn, results[1].Status)
	assert.Equal(t, pipeline.RuleStatusPass, results[2].Status)
	assert.Equal(t, pipeline.RuleStatusError, results[3].Status)
	assert.Equal(t, "evaluation failed", results[3].Detail)
	for _, r := range results {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, fixedNow(), r.EvaluatedAt)
	}

	rep := NewReport(results)
	assert.Equal(t, pipeline.VerdictFail, rep.Verdict)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Warned)
	assert.Equal(t, 1, rep.Errored)

	var gate *pipeline.QualityGateFailure
	require.ErrorAs(t, rep.Gate("stg_sales", "run-1"), &gate)
	assert.True(t, gate.Blocking())
}

func TestEvaluateRules_DetailIsCategorized(t *testing.T) {
	raw := strings.Repeat("列名无效", 30) + " password=hunter2"
	errs := map[string]error{
		"r1": errors.New(raw),
		"r2": fmt.Errorf("count: %w", context.DeadlineExceeded),
		"r3": fmt.Errorf("%w: function pg_sleep", errUnsafePredicate),
		"r4": fmt.Errorf("%w: %w", errInvalidPattern, errors.New("missing closing )")),
		"r5": fmt.Errorf("%w: %q", pipeline.ErrInvalidIdentifier, "amount; drop"),
	}
	var rules []pipeline.Rule
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		rules = append(rules, pipeline.Rule{ID: id, Kind: pipeline.CheckCustom, Severity: pipeline.SeverityFail, Active: true})
	}
	counter := CounterFunc(func(_ context.Context, rule pipeline.Rule, _, _ string) (int64, error) {
		return 0, errs[rule.ID]
	})

	results := EvaluateRules(context.Background(), rules, "stg_sales", "run-1", counter, nil, fixedNow)
	require.Len(t, results, 5)

	want := []string{"evaluation failed", "evaluation timed out", "predicate rejected", "invalid pattern", "invalid table or column name"}
	for i, r := range results {
		assert.Equal(t, pipeline.RuleStatusError, r.Status)
		assert.Equal(t, want[i], r.Detail)
		assert.True(t, utf8.ValidString(r.Detail))
		assert.NotContains(t, r.Detail, "hunter2")
	}
}

func TestReport_ErrorsDoNotBlock(t *testing.T) {
	rep := NewReport([]pipeline.RuleResult{
		{Status: pipeline.RuleStatusError, Severity: pipeline.SeverityFail},
		{Status: pipeline.RuleStatusWarn, Severity: pipeline.SeverityWarn},
	})
	assert.Equal(t, pipeline.VerdictWarn, rep.Verdict)
	assert.NoError(t, rep.Gate("stg_sales", "run-1"))

	assert.Equal(t, pipeline.VerdictPass, NewReport(nil).Verdict)
}

func TestValidatePredicate(t *testing.T) {
	tests := []struct {
		predicate string
		wantErr   bool
	}{
		{"amount < 0", false},
		{"region = 'north' AND amount IS NULL", false},
		{"", true},
		{"amount < 0; DROP TABLE dw_sales", true},
		{"amount < 0 -- comment", true},
		{"id IN (SELECT id FROM dw_sales)", true},
		{"amount < 0 /* x */", true},
		{"1=1 UNION ALL", true},
		{"lower(region) IN ('north', 'south')", false},
		{"coalesce(amount, 0) < 0 AND NOT (length(trim(code)) = 4)", false},
		{"code = 'pg_sleep(10)'", false},
		{"amount < 0 OR pg_sleep(10) IS NULL", true},
		{"set_config('role', 'admin', false) IS NOT NULL", true},
		{"pg_terminate_backend(1)", true},
		{`"pg_sleep" (1) IS NULL`, true},
		{"pg_catalog.pg_sleep(1) IS NULL", true},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			err := ValidatePredicate(tt.predicate)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSet(t *testing.T) {
	set, err := ParseSet(`["north", "south", 3]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"north", "south", "3"}, set)

	set, err = ParseSet("north, south")
	require.NoError(t, err)
	assert.Equal(t, []string{"north", "south"}, set)

	_, err = ParseSet("  ")
	assert.Error(t, err)

	_, err = ParseSet(`["north"`)
	assert.Error(t, err)
}

// EngineTestSuite 在 sqlite 暂存表上评估规则
type EngineTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	factory *testutil.TestDataFactory
	engine  *Engine
	store   *Store
}

func (s *EngineTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.factory = testutil.NewTestDataFactory(s.testDB.DB)
	s.testDB.Exec(s.T(), `CREATE TABLE stg_sales (id TEXT, region TEXT, amount REAL, code TEXT, elt_run_id TEXT)`)

	wh, err := warehouse.New(s.testDB.DB, "elt_run_id")
	s.Require().NoError(err)
	s.store = NewStore(s.testDB.DB)
	s.engine = NewEngine(s.store, NewSQLCounter(wh), slog.New(slog.DiscardHandler))
	s.engine.now = fixedNow
}

func (s *EngineTestSuite) TearDownTest() {
	s.testDB.Close()
}

// seed 写入 10 行，nullAmounts 行的 amount 为空；另写入一条属于旧运行的坏数据
func (s *EngineTestSuite) seed(runID string, nullAmounts int) {
	for i := 0; i < 10; i++ {
		var amount interface{} = float64(i * 10)
		if i < nullAmounts {
			amount = nil
		}
		region := "north"
		if i%2 == 1 {
			region = "south"
		}
		s.Require().NoError(s.testDB.DB.Exec(
			`INSERT INTO stg_sales (id, region, amount, code, elt_run_id) VALUES (?, ?, ?, ?, ?)`,
			fmt.Sprintf("id-%d", i), region, amount, fmt.Sprintf("C%03d", i), runID).Error)
	}
	s.Require().NoError(s.testDB.DB.Exec(
		`INSERT INTO stg_sales (id, region, amount, code, elt_run_id) VALUES ('id-0', 'east', NULL, 'bad', 'old-run')`).Error)
}

func (s *EngineTestSuite) TestNotNullFailBlocksGate() {
	s.seed("run-1", 3)
	s.factory.CreateQualityRule("stg_sales", "amount", "NOT_NULL", "FAIL")

	rep, err := s.engine.Evaluate(context.Background(), "stg_sales", "run-1")
	s.Require().NoError(err)
	s.Require().Len(rep.Results, 1)
	s.Equal(pipeline.RuleStatusFail, rep.Results[0].Status)
	s.EqualValues(3, rep.Results[0].FailingCount)
	s.Equal(pipeline.VerdictFail, rep.Verdict)

	stored, err := s.store.ResultsForRun(context.Background(), "run-1")
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal("FAIL", stored[0].Status)
	s.EqualValues(3, stored[0].FailingCount)
}

func (s *EngineTestSuite) TestOnlyCurrentRunRowsAreEvaluated() {
	s.seed("run-1", 0)
	s.factory.CreateQualityRule("stg_sales", "amount", "NOT_NULL", "FAIL")
	s.factory.CreateQualityRule("stg_sales", "id", "UNIQUE", "FAIL")
	s.factory.CreateQualityRule("stg_sales", "region", "IN_SET", "FAIL", func(r *models.QualityRule) {
		r.CheckParameter = "north,south"
	})

	rep, err := s.engine.Evaluate(context.Background(), "stg_sales", "run-1")
	s.Require().NoError(err)
	s.Equal(pipeline.VerdictPass, rep.Verdict)
	for _, r := range rep.Results {
		s.Equal(pipeline.RuleStatusPass, r.Status, r.Kind)
	}
}

func (s *EngineTestSuite) TestChecksAgainstSQLite() {
	s.seed("run-1", 2)
	s.Require().NoError(s.testDB.DB.Exec(
		`INSERT INTO stg_sales (id, region, amount, code, elt_run_id) VALUES ('id-1', 'west', -5, 'X1', 'run-1')`).Error)

	tests := []struct {
		name      string
		column    string
		checkType string
		param     string
		want      int64
	}{
		{"not null", "amount", "NOT_NULL", "", 2},
		// id-1 出现两次，两行都计为失败
		{"unique", "id", "UNIQUE", "", 2},
		{"unique ignores nulls", "amount", "UNIQUE", "", 0},
		{"in set", "region", "IN_SET", `["north","south"]`, 1},
		{"pattern", "code", "PATTERN", `^C\d{3}$`, 1},
		{"custom", "", "CUSTOM", "amount < 0", 1},
	}
	wh, err := warehouse.New(s.testDB.DB, "elt_run_id")
	s.Require().NoError(err)
	counter := NewSQLCounter(wh)

	for _, tt := range tests {
		s.Run(tt.name, func() {
			rule := pipeline.Rule{Column: tt.column, Kind: pipeline.CheckKind(tt.checkType), Parameter: tt.param, Severity: pipeline.SeverityFail, Active: true}
			n, err := counter.Count(context.Background(), rule, "stg_sales", "run-1")
			s.Require().NoError(err)
			s.Equal(tt.want, n)
		})
	}
}

func (s *EngineTestSuite) TestRuleErrorsAreRecordedNotRaised() {
	s.seed("run-1", 0)
	s.factory.CreateQualityRule("stg_sales", "no_such_column", "NOT_NULL", "FAIL")
	s.factory.CreateQualityRule("stg_sales", "", "CUSTOM", "FAIL", func(r *models.QualityRule) {
		r.CheckParameter = "1=1; DELETE FROM stg_sales"
	})
	s.factory.CreateQualityRule("stg_sales", "code", "PATTERN", "WARN", func(r *models.QualityRule) {
		r.CheckParameter = "("
	})

	rep, err := s.engine.Evaluate(context.Background(), "stg_sales", "run-1")
	s.Require().NoError(err)
	s.Equal(3, rep.Errored)
	details := make([]string, 0, len(rep.Results))
	for _, r := range rep.Results {
		details = append(details, r.Detail)
	}
	s.ElementsMatch([]string{"evaluation failed", "predicate rejected", "invalid pattern"}, details)
	s.Equal(pipeline.VerdictPass, rep.Verdict)
	s.NoError(rep.Gate("stg_sales", "run-1"))

	var count int64
	s.Require().NoError(s.testDB.DB.Raw(`SELECT COUNT(*) FROM stg_sales`).Scan(&count).Error)
	s.EqualValues(11, count)
}

func (s *EngineTestSuite) TestWarnOnlyAndPriorityOrder() {
	s.seed("run-1", 1)
	s.factory.CreateQualityRule("stg_sales", "region", "IN_SET", "WARN", func(r *models.QualityRule) {
		r.CheckParameter = "north"
		r.Priority = 2
	})
	s.factory.CreateQualityRule("stg_sales", "amount", "NOT_NULL", "WARN", func(r *models.QualityRule) {
		r.Priority = 1
	})
	s.factory.CreateQualityRule("stg_sales", "amount", "NOT_NULL", "FAIL", func(r *models.QualityRule) {
		r.IsActive = false
	})
	s.factory.CreateQualityRule("dw_sales", "amount", "NOT_NULL", "FAIL")

	rep, err := s.engine.Evaluate(context.Background(), "stg_sales", "run-1")
	s.Require().NoError(err)
	s.Require().Len(rep.Results, 2)
	s.Equal(pipeline.CheckNotNull, rep.Results[0].Kind)
	s.Equal(pipeline.CheckInSet, rep.Results[1].Kind)
	s.EqualValues(5, rep.Results[1].FailingCount)
	s.Equal(pipeline.VerdictWarn, rep.Verdict)
	s.Equal(2, rep.Warned)
}

func (s *EngineTestSuite) TestNoRules() {
	s.seed("run-1", 5)
	rep, err := s.engine.Evaluate(context.Background(), "stg_sales", "run-1")
	s.Require().NoError(err)
	s.Empty(rep.Results)
	s.Equal(pipeline.VerdictPass, rep.Verdict)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
