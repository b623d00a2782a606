package coordinator

import (
	"context"
	"fmt"
	"time"

	"elt-service/service/models"
	"elt-service/service/pipeline"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// RunLogStore 运行日志表
type RunLogStore struct {
	db         *gorm.DB
	maxRetries uint64
}

// NewRunLogStore 创建运行日志存储
func NewRunLogStore(db *gorm.DB) *RunLogStore {
	return &RunLogStore{db: db, maxRetries: 4}
}

// Write 追加一行运行日志，数据库短暂不可用时指数退避重试
func (s *RunLogStore) Write(ctx context.Context, kind pipeline.TriggerKind, o pipeline.RunOutcome) error {
	row := models.RunLog{
		RunID:         o.RunID,
		PipelineName:  o.GroupName,
		ImportName:    o.ImportName,
		InputRef:      o.InputRef,
		TriggerKind:   string(kind),
		Status:        string(o.Status),
		Stage:         string(o.Stage),
		RowsRead:      o.RowsRead,
		RowsStaged:    o.RowsStaged,
		RowsRemoved:   o.RowsRemoved,
		Warnings:      o.Warnings,
		Verdict:       string(o.Verdict),
		TruncateScope: models.JSONBStringArray(o.Scope),
		Switched:      o.Switched,
		Message:       o.Message,
		StartedAt:     o.StartedAt,
		EndedAt:       o.EndedAt,
		DurationMs:    o.Duration().Milliseconds(),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	op := func() error {
		// 唯一索引冲突说明上一次尝试已经写入
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.RunLog{}).Where("run_id = ?", o.RunID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		r := row
		return s.db.WithContext(ctx).Create(&r).Error
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx)); err != nil {
		return fmt.Errorf("write run log %s: %w", o.RunID, err)
	}
	return nil
}

// RunFilter 查询条件
type RunFilter struct {
	ImportName string
	Status     string
	Page       int
	Size       int
}

// List 分页查询运行日志，按开始时间倒序
func (s *RunLogStore) List(ctx context.Context, f RunFilter) ([]models.RunLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.RunLog{})
	if f.ImportName != "" {
		q = q.Where("import_name = ?", f.ImportName)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Size <= 0 {
		f.Size = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	var rows []models.RunLog
	err := q.Order("started_at DESC, run_id DESC").Offset((f.Page - 1) * f.Size).Limit(f.Size).Find(&rows).Error
	return rows, total, err
}

// Get 按运行标识查询
func (s *RunLogStore) Get(ctx context.Context, runID string) (*models.RunLog, error) {
	var row models.RunLog
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
