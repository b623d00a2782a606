package registry

import (
	"context"
	"fmt"
	"io"

	"elt-service/service/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ImportDocument 配置导入文件
type ImportDocument struct {
	Pipelines    []PipelineSpec `yaml:"pipelines"`
	QualityRules []RuleSpec     `yaml:"quality_rules"`
}

// PipelineSpec 导入文件中的管道配置
type PipelineSpec struct {
	PipelineName       string `yaml:"pipeline_name"`
	ImportName         string `yaml:"import_name"`
	FilePattern        string `yaml:"file_pattern"`
	MonitoredDirectory string `yaml:"monitored_directory"`
	ParserID           string `yaml:"parser_id"`
	StagingTable       string `yaml:"staging_table"`
	DestinationTable   string `yaml:"destination_table"`
	TransformID        string `yaml:"transform_id"`
	LoadMethod         string `yaml:"load_method"`
	DeduplicationKey   string `yaml:"deduplication_key"`
	SuccessorImport    string `yaml:"successor_import"`
	DependsOn          string `yaml:"depends_on"`
	ColumnMapping      string `yaml:"column_mapping"`
	ScheduleCron       string `yaml:"schedule_cron"`
	IsActive           *bool  `yaml:"is_active"`
	Description        string `yaml:"description"`
}

// RuleSpec 导入文件中的质量规则
type RuleSpec struct {
	TargetTable    string `yaml:"target_table"`
	ColumnName     string `yaml:"column_name"`
	CheckType      string `yaml:"check_type"`
	CheckParameter string `yaml:"check_parameter"`
	Severity       string `yaml:"severity"`
	IsActive       *bool  `yaml:"is_active"`
	Priority       int    `yaml:"priority"`
	Description    string `yaml:"description"`
}

// ImportSummary 导入结果
type ImportSummary struct {
	PipelinesCreated int
	PipelinesUpdated int
	RulesCreated     int
	RulesUpdated     int
}

// ParseImport 解析 YAML 导入文件
func ParseImport(r io.Reader) (ImportDocument, error) {
	var doc ImportDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return ImportDocument{}, fmt.Errorf("parse import file: %w", err)
	}
	return doc, nil
}

func activeOrDefault(v *bool) bool {
	return v == nil || *v
}

func (p PipelineSpec) row() models.PipelineConfig {
	return models.PipelineConfig{
		PipelineName:       p.PipelineName,
		ImportName:         p.ImportName,
		FilePattern:        p.FilePattern,
		MonitoredDirectory: p.MonitoredDirectory,
		ParserID:           p.ParserID,
		StagingTable:       p.StagingTable,
		DestinationTable:   p.DestinationTable,
		TransformID:        p.TransformID,
		LoadMethod:         p.LoadMethod,
		DeduplicationKey:   p.DeduplicationKey,
		SuccessorImport:    p.SuccessorImport,
		DependsOn:          p.DependsOn,
		ColumnMapping:      p.ColumnMapping,
		ScheduleCron:       p.ScheduleCron,
		IsActive:           activeOrDefault(p.IsActive),
		Description:        p.Description,
	}
}

// Import 按 import_name 更新或新增管道，按 (目标表, 列, 类型, 参数) 更新或新增规则；
// 管道配置有变化时版本号加一，使此前的生命周期切换记录不再适用于新配置
func Import(ctx context.Context, db *gorm.DB, doc ImportDocument) (ImportSummary, error) {
	var sum ImportSummary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range doc.Pipelines {
			if p.ImportName == "" {
				return fmt.Errorf("pipeline entry without import_name")
			}
			want := p.row()
			var existing models.PipelineConfig
			err := tx.Where("import_name = ?", p.ImportName).Order("created_at ASC, id ASC").Limit(1).Find(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID == "" {
				if err := tx.Create(&want).Error; err != nil {
					return err
				}
				sum.PipelinesCreated++
				continue
			}
			if sameConfig(existing, want) {
				continue
			}
			err = tx.Model(&models.PipelineConfig{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
				"pipeline_name":       want.PipelineName,
				"file_pattern":        want.FilePattern,
				"monitored_directory": want.MonitoredDirectory,
				"parser_id":           want.ParserID,
				"staging_table":       want.StagingTable,
				"destination_table":   want.DestinationTable,
				"transform_id":        want.TransformID,
				"load_method":         want.LoadMethod,
				"deduplication_key":   want.DeduplicationKey,
				"successor_import":    want.SuccessorImport,
				"depends_on":          want.DependsOn,
				"column_mapping":      want.ColumnMapping,
				"schedule_cron":       want.ScheduleCron,
				"is_active":           want.IsActive,
				"description":         want.Description,
				"version":             gorm.Expr("version + 1"),
			}).Error
			if err != nil {
				return err
			}
			sum.PipelinesUpdated++
		}

		for _, r := range doc.QualityRules {
			var existing models.QualityRule
			err := tx.Where("target_table = ? AND column_name = ? AND check_type = ? AND check_parameter = ?",
				r.TargetTable, r.ColumnName, r.CheckType, r.CheckParameter).Limit(1).Find(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID == "" {
				rule := models.QualityRule{
					TargetTable:    r.TargetTable,
					ColumnName:     r.ColumnName,
					CheckType:      r.CheckType,
					CheckParameter: r.CheckParameter,
					Severity:       r.Severity,
					IsActive:       activeOrDefault(r.IsActive),
					Priority:       r.Priority,
					Description:    r.Description,
				}
				if err := tx.Create(&rule).Error; err != nil {
					return err
				}
				sum.RulesCreated++
				continue
			}
			err = tx.Model(&models.QualityRule{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
				"severity":    r.Severity,
				"is_active":   activeOrDefault(r.IsActive),
				"priority":    r.Priority,
				"description": r.Description,
			}).Error
			if err != nil {
				return err
			}
			sum.RulesUpdated++
		}
		return nil
	})
	return sum, err
}

func sameConfig(a, b models.PipelineConfig) bool {
	a.ID, a.Version, a.CreatedAt, a.UpdatedAt = "", 0, b.CreatedAt, b.UpdatedAt
	return a == b
}
