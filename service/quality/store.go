package quality

import (
	"context"
	"fmt"

	"elt-service/service/models"
	"elt-service/service/pipeline"

	"gorm.io/gorm"
)

// Store 规则与规则结果的持久化
type Store struct {
	db *gorm.DB
}

// NewStore 创建规则存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ActiveRules 读取目标表上启用的规则，按优先级排序
func (s *Store) ActiveRules(ctx context.Context, target string) ([]pipeline.Rule, error) {
	var rows []models.QualityRule
	err := s.db.WithContext(ctx).
		Where("target_table = ? AND is_active = ?", target, true).
		Order("priority ASC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", target, err)
	}
	out := make([]pipeline.Rule, len(rows))
	for i, r := range rows {
		out[i] = pipeline.Rule{
			ID:          r.ID,
			TargetTable: r.TargetTable,
			Column:      r.ColumnName,
			Kind:        pipeline.CheckKind(r.CheckType),
			Parameter:   r.CheckParameter,
			Severity:    pipeline.Severity(r.Severity),
			Active:      r.IsActive,
			Priority:    r.Priority,
		}
	}
	return out, nil
}

// RecordResults 追加规则结果
func (s *Store) RecordResults(ctx context.Context, results []pipeline.RuleResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]models.RuleResultRecord, len(results))
	for i, r := range results {
		rows[i] = models.RuleResultRecord{
			RunID:        r.RunID,
			RuleID:       r.RuleID,
			TargetTable:  r.TargetTable,
			ColumnName:   r.Column,
			CheckType:    string(r.Kind),
			Severity:     string(r.Severity),
			Status:       string(r.Status),
			FailingCount: r.FailingCount,
			Detail:       r.Detail,
			EvaluatedAt:  r.EvaluatedAt,
		}
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// ResultsForRun 查询某次运行的规则结果
func (s *Store) ResultsForRun(ctx context.Context, runID string) ([]models.RuleResultRecord, error) {
	var rows []models.RuleResultRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("evaluated_at ASC, id ASC").Find(&rows).Error
	return rows, err
}
