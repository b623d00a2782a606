package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"elt-service/service/models"
	"elt-service/service/warehouse"
	"elt-service/testutil"

	"github.com/stretchr/testify/suite"
)

type fixedRetention struct {
	runLogDays  int
	stagingDays int
}

func (r fixedRetention) GetRunLogRetentionDays() int  { return r.runLogDays }
func (r fixedRetention) GetStagingRetentionDays() int { return r.stagingDays }

// RetentionServiceTestSuite 保留期清理
type RetentionServiceTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	service *RetentionService
	now     time.Time
}

func (s *RetentionServiceTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.testDB.Exec(s.T(), `CREATE TABLE stg_sales (id TEXT, elt_run_id TEXT)`)
	s.now = time.Date(2024, 3, 31, 3, 0, 0, 0, time.UTC)

	wh, err := warehouse.New(s.testDB.DB, "elt_run_id")
	s.Require().NoError(err)
	tables := func() map[string]string { return map[string]string{"sales": "stg_sales", "broken": "stg_missing"} }
	s.service = NewRetentionService(s.testDB.DB, fixedRetention{runLogDays: 30, stagingDays: 7}, wh, tables, slog.New(slog.DiscardHandler))
	s.service.now = func() time.Time { return s.now }
}

func (s *RetentionServiceTestSuite) TearDownTest() {
	s.service.Stop()
	s.testDB.Close()
}

// seedRun 写入运行日志、规则结果和两行暂存数据
func (s *RetentionServiceTestSuite) seedRun(importName string, age time.Duration) string {
	started := s.now.Add(-age)
	runID := fmt.Sprintf("%s-%d", importName, int(age.Hours()))
	s.Require().NoError(s.testDB.DB.Create(&models.RunLog{
		RunID: runID, ImportName: importName, Status: "SUCCESS", StartedAt: started, EndedAt: started,
	}).Error)
	s.Require().NoError(s.testDB.DB.Create(&models.RuleResultRecord{
		RunID: runID, Status: "PASS", EvaluatedAt: started,
	}).Error)
	s.Require().NoError(s.testDB.DB.Exec(`INSERT INTO stg_sales VALUES ('a', ?), ('b', ?)`, runID, runID).Error)
	return runID
}

func (s *RetentionServiceTestSuite) count(query string) int64 {
	var n int64
	s.Require().NoError(s.testDB.DB.Raw(query).Scan(&n).Error)
	return n
}

func (s *RetentionServiceTestSuite) TestCleanup() {
	day := 24 * time.Hour
	s.seedRun("sales", 1*day)
	s.seedRun("sales", 10*day)
	s.seedRun("sales", 40*day)
	s.seedRun("broken", 40*day)

	res, err := s.service.Cleanup(context.Background())
	s.Require().NoError(err)

	// 10 天和 40 天的 sales 运行暂存行被删除；broken 的暂存表不存在只记录告警
	s.EqualValues(4, res.StagingRows)
	s.EqualValues(2, res.RunLogs)
	s.EqualValues(2, res.RuleResults)

	s.EqualValues(4, s.count(`SELECT COUNT(*) FROM stg_sales`))
	s.EqualValues(2, s.count(`SELECT COUNT(*) FROM elt_run_logs`))
	s.EqualValues(2, s.count(`SELECT COUNT(*) FROM elt_quality_rule_results`))
}

func (s *RetentionServiceTestSuite) TestCleanupIsIdempotent() {
	s.seedRun("sales", 60*24*time.Hour)

	_, err := s.service.Cleanup(context.Background())
	s.Require().NoError(err)
	res, err := s.service.Cleanup(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{}, res)
}

func (s *RetentionServiceTestSuite) TestStart() {
	s.Require().NoError(s.service.Start(context.Background(), "0 0 3 * * *"))
	s.Error(s.service.Start(context.Background(), "0 0 3 * * *"))
	s.service.Stop()

	s.Error(s.service.Start(context.Background(), "not a schedule"))
}

func TestRetentionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(RetentionServiceTestSuite))
}
