/*
 * @module service/models/pipeline_config
 * @description ELT 管道配置与质量规则模型，配置表是管道行为的唯一来源
 * @architecture 数据模型层
 * @stateFlow 配置写入 -> 注册表加载校验 -> 运行期只读快照 -> 生命周期切换回写
 * @rules import_name 唯一性由注册表在加载时校验，表上不加唯一索引以便报告重复行
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/registry, service/lifecycle
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineConfig 管道配置行
type PipelineConfig struct {
	ID                 string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	PipelineName       string    `gorm:"type:varchar(100);not null;index" json:"pipeline_name"`
	ImportName         string    `gorm:"type:varchar(100);not null;index" json:"import_name"`
	FilePattern        string    `gorm:"type:varchar(255)" json:"file_pattern"`
	MonitoredDirectory string    `gorm:"type:varchar(500)" json:"monitored_directory"`
	ParserID           string    `gorm:"column:parser_id;type:varchar(100)" json:"parser_id"`
	StagingTable       string    `gorm:"type:varchar(128)" json:"staging_table"`
	DestinationTable   string    `gorm:"type:varchar(128)" json:"destination_table"`
	TransformID        string    `gorm:"column:transform_id;type:varchar(100)" json:"transform_id"`
	LoadMethod         string    `gorm:"type:varchar(20)" json:"load_method"` // replace, append
	DeduplicationKey   string    `gorm:"type:varchar(500)" json:"deduplication_key"`
	SuccessorImport    string    `gorm:"type:varchar(100)" json:"successor_import"`
	DependsOn          string    `gorm:"type:varchar(500)" json:"depends_on"`
	ColumnMapping      string    `gorm:"type:text" json:"column_mapping"`
	ScheduleCron       string    `gorm:"type:varchar(100)" json:"schedule_cron"`
	IsActive           bool      `gorm:"index" json:"is_active"`
	Version            int       `gorm:"not null" json:"version"`
	Description        string    `gorm:"type:text" json:"description"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName 指定表名
func (PipelineConfig) TableName() string {
	return "elt_pipeline_configs"
}

// BeforeCreate 创建前钩子
func (p *PipelineConfig) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}

// QualityRule 质量规则，作用于单个目标表
type QualityRule struct {
	ID             string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	TargetTable    string    `gorm:"type:varchar(128);not null;index" json:"target_table"`
	ColumnName     string    `gorm:"type:varchar(128)" json:"column_name"`
	CheckType      string    `gorm:"type:varchar(20);not null" json:"check_type"` // NOT_NULL, UNIQUE, IN_SET, PATTERN, CUSTOM
	CheckParameter string    `gorm:"type:text" json:"check_parameter"`
	Severity       string    `gorm:"type:varchar(10);not null" json:"severity"` // WARN, FAIL
	IsActive       bool      `gorm:"index" json:"is_active"`
	Priority       int       `json:"priority"`
	Description    string    `gorm:"type:text" json:"description"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 指定表名
func (QualityRule) TableName() string {
	return "elt_quality_rules"
}

// BeforeCreate 创建前钩子
func (q *QualityRule) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}
