package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColumnMapping(t *testing.T) {
	m, err := ParseColumnMapping("Region Name > region, Amt>amount")
	require.NoError(t, err)
	assert.Equal(t, []ColumnMapping{{Source: "Region Name", Target: "region"}, {Source: "Amt", Target: "amount"}}, m)

	m, err = ParseColumnMapping("  ")
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = ParseColumnMapping("Region Name region")
	assert.ErrorContains(t, err, "Region Name region")
	_, err = ParseColumnMapping("a > ")
	assert.Error(t, err)
}

func TestBatchRename(t *testing.T) {
	b := Batch{Columns: []string{"Amt", "id"}, Rows: [][]interface{}{{"1", "a"}}}

	out, err := b.Rename([]ColumnMapping{{Source: "Amt", Target: "amount"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "id"}, out.Columns)
	assert.Equal(t, []string{"Amt", "id"}, b.Columns)

	_, err = b.Rename([]ColumnMapping{{Source: "missing", Target: "x"}})
	assert.Error(t, err)
	_, err = b.Rename([]ColumnMapping{{Source: "Amt", Target: "id"}})
	assert.ErrorContains(t, err, "duplicate column")
}

func TestDefinitionClone(t *testing.T) {
	d := Definition{ImportName: "sales", DedupKey: []string{"id"}, DependsOn: []string{"orders"}}
	c := d.Clone()
	c.DedupKey[0] = "other"
	c.DependsOn = append(c.DependsOn, "returns")
	assert.Equal(t, []string{"id"}, d.DedupKey)
	assert.Equal(t, []string{"orders"}, d.DependsOn)
	assert.True(t, d.HasDedupKey())
	assert.False(t, d.HasSuccessor())
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, VerdictPass, Aggregate(nil))
	assert.Equal(t, VerdictPass, Aggregate([]RuleResult{{Status: RuleStatusPass}, {Status: RuleStatusError}}))
	assert.Equal(t, VerdictWarn, Aggregate([]RuleResult{{Status: RuleStatusWarn}, {Status: RuleStatusPass}}))
	assert.Equal(t, VerdictFail, Aggregate([]RuleResult{{Status: RuleStatusWarn}, {Status: RuleStatusFail}}))
}

func TestRunOutcome(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	event := TriggerEvent{Definition: Definition{ImportName: "sales", DedupKey: []string{"id"}}, InputRef: "/inbox/a.csv", Kind: TriggerSensor}

	run := NewRun("run-1", event, start)
	assert.Equal(t, RunStatusRunning, run.Status)
	run.Fail(StageQuality, errors.New("stg_sales: 3 rows with NULL amount"), start.Add(time.Second))
	out := run.Outcome()
	assert.Equal(t, "data quality checks failed", out.Message)
	assert.NotContains(t, out.Message, "stg_sales")
	assert.Equal(t, time.Second, out.Duration())

	run = NewRun("run-2", event, start)
	run.Warnings = 1
	run.Succeed(start.Add(time.Minute))
	out = run.Outcome()
	assert.Equal(t, StageComplete, out.Stage)
	assert.Equal(t, "completed with quality warnings", out.Message)

	assert.Equal(t, "run failed", PublicMessage(Stage("UNKNOWN")))
}
