/*
 * @module service/cleanup/retention_service
 * @description 保留期清理：过期的暂存行、运行日志与规则结果
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 定时触发 -> 读取保留天数 -> 清理暂存行 -> 清理审计记录
 * @rules 先清理暂存行再删除运行日志，暂存行按运行标识定位
 * @dependencies github.com/robfig/cron/v3, gorm.io/gorm
 * @refs service/config, service/warehouse
 */

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"elt-service/service/models"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const runIDChunk = 500

// Retention 保留天数来源
type Retention interface {
	GetRunLogRetentionDays() int
	GetStagingRetentionDays() int
}

// StagingPurger 按运行标识删除暂存行
type StagingPurger interface {
	DeleteRuns(ctx context.Context, table string, runIDs []string) (int64, error)
}

// StagingTables 返回 import_name -> 暂存表
type StagingTables func() map[string]string

// Result 一次清理的结果
type Result struct {
	StagingRows int64 `json:"staging_rows"`
	RunLogs     int64 `json:"run_logs"`
	RuleResults int64 `json:"rule_results"`
}

// RetentionService 保留期清理服务
type RetentionService struct {
	db        *gorm.DB
	retention Retention
	purger    StagingPurger
	tables    StagingTables
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
	started   bool
}

// NewRetentionService 创建清理服务
func NewRetentionService(db *gorm.DB, retention Retention, purger StagingPurger, tables StagingTables, logger *slog.Logger) *RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		db:        db,
		retention: retention,
		purger:    purger,
		tables:    tables,
		cron:      cron.New(cron.WithSeconds()),
		logger:    logger,
		now:       time.Now,
	}
}

// Cleanup 执行一次清理
func (s *RetentionService) Cleanup(ctx context.Context) (Result, error) {
	var res Result
	startTime := s.now()

	stagingCutoff := startTime.AddDate(0, 0, -s.retention.GetStagingRetentionDays())
	n, err := s.CleanupStaging(ctx, stagingCutoff)
	if err != nil {
		return res, err
	}
	res.StagingRows = n

	logCutoff := startTime.AddDate(0, 0, -s.retention.GetRunLogRetentionDays())
	rr := s.db.WithContext(ctx).Where("evaluated_at < ?", logCutoff).Delete(&models.RuleResultRecord{})
	if rr.Error != nil {
		return res, fmt.Errorf("删除规则结果失败: %w", rr.Error)
	}
	res.RuleResults = rr.RowsAffected

	rl := s.db.WithContext(ctx).Where("started_at < ?", logCutoff).Delete(&models.RunLog{})
	if rl.Error != nil {
		return res, fmt.Errorf("删除运行日志失败: %w", rl.Error)
	}
	res.RunLogs = rl.RowsAffected

	s.logger.Info("retention: cleanup finished",
		"staging_rows", res.StagingRows,
		"run_logs", res.RunLogs,
		"rule_results", res.RuleResults,
		"duration_ms", time.Since(startTime).Milliseconds())
	return res, nil
}

// CleanupStaging 删除 cutoff 之前开始的运行留下的暂存行
func (s *RetentionService) CleanupStaging(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for importName, table := range s.tables() {
		var runIDs []string
		err := s.db.WithContext(ctx).Model(&models.RunLog{}).
			Where("import_name = ? AND started_at < ?", importName, cutoff).
			Pluck("run_id", &runIDs).Error
		if err != nil {
			return total, fmt.Errorf("查询过期运行失败: %w", err)
		}
		for start := 0; start < len(runIDs); start += runIDChunk {
			end := min(start+runIDChunk, len(runIDs))
			n, err := s.purger.DeleteRuns(ctx, table, runIDs[start:end])
			if err != nil {
				// 单个暂存表失败不影响其他表
				s.logger.Warn("retention: staging purge failed", "import_name", importName, "table", table, "error", err)
				break
			}
			total += n
		}
	}
	return total, nil
}

// Start 按 cron 表达式定时执行
func (s *RetentionService) Start(ctx context.Context, schedule string) error {
	if s.started {
		return fmt.Errorf("清理调度器已经启动")
	}
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Cleanup(ctx); err != nil {
			s.logger.Error("retention: scheduled cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("retention: scheduler started", "schedule", schedule)
	return nil
}

// Stop 停止定时任务
func (s *RetentionService) Stop() {
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}
