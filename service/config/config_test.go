package config

import (
	"testing"
	"time"

	"elt-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigService(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	s := NewConfigService(tdb.DB)

	assert.Equal(t, DefaultRunLogRetentionDays, s.GetRunLogRetentionDays())
	assert.Equal(t, DefaultStagingRetentionDays, s.GetStagingRetentionDays())

	require.NoError(t, s.SetSystemConfig(ConfigKeyRunLogRetentionDays, "90", "季度审计"))
	assert.Equal(t, 90, s.GetRunLogRetentionDays())

	// 非法值回退默认
	require.NoError(t, s.SetSystemConfig(ConfigKeyStagingRetentionDays, "-1", ""))
	assert.Equal(t, DefaultStagingRetentionDays, s.GetStagingRetentionDays())

	s.ClearCache()
	v, err := s.GetSystemConfig(ConfigKeyRunLogRetentionDays)
	require.NoError(t, err)
	assert.Equal(t, "90", v)

	_, err = s.GetSystemConfig("elt.unknown")
	assert.Error(t, err)

	items, err := s.GetAllSystemConfigs()
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.False(t, it.IsDefault)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("ELT_POLL_INTERVAL", "45s")
	t.Setenv("ELT_RUN_TIMEOUT", "garbage")
	t.Setenv("ELT_ALLOWED_PROCEDURES", " etl.load_sales, ,etl.load_returns")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "redis")

	s := Load()
	assert.Equal(t, 45*time.Second, s.PollInterval)
	assert.Equal(t, 30*time.Minute, s.RunTimeout)
	assert.Equal(t, []string{"etl.load_sales", "etl.load_returns"}, s.AllowedProcedures)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, s.KafkaBrokers)
	assert.True(t, s.RedisEnabled)
	assert.Equal(t, "redis:6379", s.RedisAddr)
	assert.Equal(t, "elt_run_id", s.LineageColumn)
}

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "pg")
	assert.Contains(t, DatabaseDSN(), "host=pg port=5432")

	t.Setenv("DATABASE_URL", "postgres://u:p@db/elt")
	assert.Equal(t, "postgres://u:p@db/elt", DatabaseDSN())
}
