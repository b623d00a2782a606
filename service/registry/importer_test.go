package registry

import (
	"context"
	"strings"
	"testing"

	"elt-service/service/models"
	"elt-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importYAML = `
pipelines:
  - pipeline_name: finance
    import_name: sales_initial
    file_pattern: "sales_*.csv"
    monitored_directory: /data/inbox/sales
    parser_id: csv
    staging_table: stg_sales
    destination_table: dw_sales
    transform_id: insert_from_staging
    load_method: replace
    successor_import: sales_delta
  - pipeline_name: finance
    import_name: sales_delta
    file_pattern: "sales_*.csv"
    monitored_directory: /data/inbox/sales
    parser_id: csv
    staging_table: stg_sales
    destination_table: dw_sales
    transform_id: insert_from_staging
    load_method: append
    deduplication_key: id
    is_active: false
quality_rules:
  - target_table: stg_sales
    column_name: amount
    check_type: NOT_NULL
    severity: FAIL
  - target_table: stg_sales
    column_name: region
    check_type: IN_SET
    check_parameter: "north,south"
    severity: WARN
    priority: 2
`

func TestParseImport(t *testing.T) {
	doc, err := ParseImport(strings.NewReader(importYAML))
	require.NoError(t, err)
	require.Len(t, doc.Pipelines, 2)
	require.Len(t, doc.QualityRules, 2)
	assert.Equal(t, "sales_delta", doc.Pipelines[0].SuccessorImport)
	assert.Nil(t, doc.Pipelines[0].IsActive)
	require.NotNil(t, doc.Pipelines[1].IsActive)
	assert.False(t, *doc.Pipelines[1].IsActive)

	_, err = ParseImport(strings.NewReader("pipelines:\n  - import_name: x\n    unknown_field: 1\n"))
	assert.Error(t, err)
}

func TestImport_UpsertsAndBumpsVersion(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()

	doc, err := ParseImport(strings.NewReader(importYAML))
	require.NoError(t, err)

	sum, err := Import(ctx, tdb.DB, doc)
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{PipelinesCreated: 2, RulesCreated: 2}, sum)

	var initial models.PipelineConfig
	require.NoError(t, tdb.DB.Where("import_name = ?", "sales_initial").First(&initial).Error)
	assert.True(t, initial.IsActive)
	assert.Equal(t, 1, initial.Version)

	// 相同内容再次导入不产生变更
	sum, err = Import(ctx, tdb.DB, doc)
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{RulesUpdated: 2}, sum)

	doc.Pipelines[0].FilePattern = "sales_v2_*.csv"
	sum, err = Import(ctx, tdb.DB, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PipelinesUpdated)

	require.NoError(t, tdb.DB.First(&initial, "id = ?", initial.ID).Error)
	assert.Equal(t, "sales_v2_*.csv", initial.FilePattern)
	assert.Equal(t, 2, initial.Version)

	var n int64
	require.NoError(t, tdb.DB.Model(&models.QualityRule{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestImport_RollsBackOnError(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	doc := ImportDocument{Pipelines: []PipelineSpec{{ImportName: "sales"}, {PipelineName: "missing import"}}}
	_, err := Import(context.Background(), tdb.DB, doc)
	require.Error(t, err)

	var n int64
	require.NoError(t, tdb.DB.Model(&models.PipelineConfig{}).Count(&n).Error)
	assert.Zero(t, n)
}
