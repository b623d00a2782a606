/*
 * @module service/models/run_log
 * @description 运行审计记录：运行日志、规则结果、生命周期切换记录、传感器游标
 * @architecture 数据模型层
 * @rules 运行日志与规则结果只追加不修改；Message 只保存对外简短信息
 * @dependencies gorm.io/gorm, github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunLog 每次运行写入一行
type RunLog struct {
	ID            string           `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID         string           `gorm:"type:varchar(50);not null;uniqueIndex" json:"run_id"`
	PipelineName  string           `gorm:"type:varchar(100);index" json:"pipeline_name"`
	ImportName    string           `gorm:"type:varchar(100);not null;index" json:"import_name"`
	InputRef      string           `gorm:"type:text" json:"input_ref"`
	TriggerKind   string           `gorm:"type:varchar(20)" json:"trigger_kind"`
	Status        string           `gorm:"type:varchar(20);not null;index" json:"status"`
	Stage         string           `gorm:"type:varchar(20)" json:"stage"`
	RowsRead      int64            `json:"rows_read"`
	RowsStaged    int64            `json:"rows_staged"`
	RowsRemoved   int64            `json:"rows_removed"`
	Warnings      int              `json:"warnings"`
	Verdict       string           `gorm:"type:varchar(10)" json:"verdict"`
	TruncateScope JSONBStringArray `gorm:"type:jsonb" json:"truncate_scope"`
	Switched      bool             `json:"switched"`
	Message       string           `gorm:"type:varchar(255)" json:"message"`
	StartedAt     time.Time        `gorm:"index" json:"started_at"`
	EndedAt       time.Time        `json:"ended_at"`
	DurationMs    int64            `json:"duration_ms"`
	CreatedAt     time.Time        `json:"created_at"`
}

// TableName 指定表名
func (RunLog) TableName() string {
	return "elt_run_logs"
}

// BeforeCreate 创建前钩子
func (r *RunLog) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// RuleResultRecord 单条规则的评估记录
type RuleResultRecord struct {
	ID           string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID        string    `gorm:"type:varchar(50);not null;index" json:"run_id"`
	RuleID       string    `gorm:"type:varchar(50);index" json:"rule_id"`
	TargetTable  string    `gorm:"type:varchar(128)" json:"target_table"`
	ColumnName   string    `gorm:"type:varchar(128)" json:"column_name"`
	CheckType    string    `gorm:"type:varchar(20)" json:"check_type"`
	Severity     string    `gorm:"type:varchar(10)" json:"severity"`
	Status       string    `gorm:"type:varchar(10);not null" json:"status"` // PASS, WARN, FAIL, ERROR
	FailingCount int64     `json:"failing_count"`
	Detail       string    `gorm:"type:varchar(255)" json:"detail"`
	EvaluatedAt  time.Time `gorm:"index" json:"evaluated_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定表名
func (RuleResultRecord) TableName() string {
	return "elt_quality_rule_results"
}

// BeforeCreate 创建前钩子
func (r *RuleResultRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// LifecycleTransition 生命周期切换记录，(from_import, from_version) 唯一
type LifecycleTransition struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	FromImport  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_transition_from" json:"from_import"`
	FromVersion int       `gorm:"not null;uniqueIndex:idx_transition_from" json:"from_version"`
	ToImport    string    `gorm:"type:varchar(100);not null" json:"to_import"`
	RunID       string    `gorm:"type:varchar(50)" json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName 指定表名
func (LifecycleTransition) TableName() string {
	return "elt_lifecycle_transitions"
}

// BeforeCreate 创建前钩子
func (l *LifecycleTransition) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// SensorCursor 传感器已派发输入的 (路径, 修改时间) 游标
type SensorCursor struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ImportName   string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_cursor_path" json:"import_name"`
	Path         string    `gorm:"type:varchar(1000);not null;uniqueIndex:idx_cursor_path" json:"path"`
	ModTime      time.Time `json:"mod_time"`
	DispatchedAt time.Time `json:"dispatched_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SensorCursor) TableName() string {
	return "elt_sensor_cursors"
}
