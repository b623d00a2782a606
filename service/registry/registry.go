/*
 * @module service/registry/registry
 * @description 管道注册表，从配置表加载启用的定义并逐行校验
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 读取配置行 -> 校验 -> 转换为定义快照
 * @rules 不跨重载缓存；单行校验失败只跳过该行；import_name 重复时保留第一行
 * @dependencies github.com/go-playground/validator/v10, github.com/robfig/cron/v3, gorm.io/gorm
 * @refs service/orchestrator
 */

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"

	"elt-service/service/models"
	"elt-service/service/pipeline"
	"elt-service/service/warehouse"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// ScheduleParser schedule_cron 解析器，秒字段可选
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// AllowList 例程允许列表
type AllowList interface {
	HasParser(id string) bool
	HasTransform(id string) bool
}

// LoadResult 一次加载的结果
type LoadResult struct {
	Definitions []pipeline.Definition
	Errors      []*pipeline.ConfigValidationError
}

// Find 按导入名查找
func (r LoadResult) Find(importName string) (pipeline.Definition, bool) {
	for _, d := range r.Definitions {
		if d.ImportName == importName {
			return d.Clone(), true
		}
	}
	return pipeline.Definition{}, false
}

// Group 返回组内全部定义
func (r LoadResult) Group(groupName string) []pipeline.Definition {
	var out []pipeline.Definition
	for _, d := range r.Definitions {
		if d.GroupName == groupName {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Registry 管道注册表
type Registry struct {
	db       *gorm.DB
	allow    AllowList
	validate *validator.Validate
	cron     cron.Parser
	logger   *slog.Logger
}

// NewRegistry 创建注册表
func NewRegistry(db *gorm.DB, allow AllowList, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		db:       db,
		allow:    allow,
		validate: newValidator(),
		cron:     ScheduleParser,
		logger:   logger,
	}
}

// LoadActive 加载所有启用的定义；仅查询失败时返回 error
func (r *Registry) LoadActive(ctx context.Context) (LoadResult, error) {
	var rows []models.PipelineConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return LoadResult{}, fmt.Errorf("load pipeline configs: %w", err)
	}

	res := r.Validate(rows)
	for _, e := range res.Errors {
		r.logger.Warn("registry: rejected config row",
			"row_id", e.RowID, "import_name", e.ImportName, "field", e.Field, "reason", e.Reason)
	}
	r.logger.Info("registry: loaded definitions", "accepted", len(res.Definitions), "rejected", len(res.Errors))
	return res, nil
}

// Validate 校验配置行，行顺序决定重复导入名时保留哪一行
func (r *Registry) Validate(rows []models.PipelineConfig) LoadResult {
	var res LoadResult
	seen := make(map[string]string, len(rows))
	for _, row := range rows {
		def, verr := r.convert(row)
		if verr != nil {
			res.Errors = append(res.Errors, verr)
			continue
		}
		if first, dup := seen[def.ImportName]; dup {
			res.Errors = append(res.Errors, &pipeline.ConfigValidationError{
				RowID:      row.ID,
				ImportName: row.ImportName,
				Field:      "import_name",
				Reason:     "duplicate import_name, already defined by row " + first,
			})
			continue
		}
		seen[def.ImportName] = row.ID
		res.Definitions = append(res.Definitions, def)
	}
	return res
}

func (r *Registry) convert(row models.PipelineConfig) (pipeline.Definition, *pipeline.ConfigValidationError) {
	fail := func(field, reason string) *pipeline.ConfigValidationError {
		return &pipeline.ConfigValidationError{RowID: row.ID, ImportName: row.ImportName, Field: field, Reason: reason}
	}

	in := definitionInput{
		GroupName:        strings.TrimSpace(row.PipelineName),
		ImportName:       strings.TrimSpace(row.ImportName),
		FilePattern:      strings.TrimSpace(row.FilePattern),
		ParserID:         strings.TrimSpace(row.ParserID),
		StagingTable:     strings.TrimSpace(row.StagingTable),
		DestinationTable: strings.TrimSpace(row.DestinationTable),
		TransformID:      strings.TrimSpace(row.TransformID),
		LoadMode:         strings.ToLower(strings.TrimSpace(row.LoadMethod)),
		DedupKey:         pipeline.ParseList(row.DeduplicationKey),
		Successor:        strings.TrimSpace(row.SuccessorImport),
		DependsOn:        pipeline.ParseList(row.DependsOn),
	}
	if err := r.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return pipeline.Definition{}, fail(verrs[0].Field(), describe(verrs[0]))
		}
		return pipeline.Definition{}, fail("row", err.Error())
	}

	if in.Successor == in.ImportName {
		return pipeline.Definition{}, fail("successor_import", "successor refers to the definition itself")
	}
	if _, err := filepath.Match(in.FilePattern, ""); err != nil {
		return pipeline.Definition{}, fail("file_pattern", err.Error())
	}
	if r.allow != nil && !r.allow.HasParser(in.ParserID) {
		return pipeline.Definition{}, fail("parser_id", fmt.Sprintf("parser %q is not in the allow-list", in.ParserID))
	}
	if r.allow != nil && !r.allow.HasTransform(in.TransformID) {
		return pipeline.Definition{}, fail("transform_id", fmt.Sprintf("transform %q is not in the allow-list", in.TransformID))
	}
	mapping, err := pipeline.ParseColumnMapping(row.ColumnMapping)
	if err != nil {
		return pipeline.Definition{}, fail("column_mapping", err.Error())
	}
	schedule := strings.TrimSpace(row.ScheduleCron)
	if schedule != "" {
		if _, err := r.cron.Parse(schedule); err != nil {
			return pipeline.Definition{}, fail("schedule_cron", err.Error())
		}
	}

	return pipeline.Definition{
		ID:               row.ID,
		GroupName:        in.GroupName,
		ImportName:       in.ImportName,
		FilePattern:      in.FilePattern,
		WatchedLocation:  strings.TrimSpace(row.MonitoredDirectory),
		ParserID:         in.ParserID,
		StagingTable:     in.StagingTable,
		DestinationTable: in.DestinationTable,
		TransformID:      in.TransformID,
		LoadMode:         pipeline.LoadMode(in.LoadMode),
		DedupKey:         in.DedupKey,
		Successor:        in.Successor,
		DependsOn:        in.DependsOn,
		ColumnMapping:    mapping,
		ScheduleCron:     schedule,
		Active:           row.IsActive,
		Version:          row.Version,
	}, nil
}

type definitionInput struct {
	GroupName        string   `field:"pipeline_name" validate:"required,max=100"`
	ImportName       string   `field:"import_name" validate:"required,max=100"`
	FilePattern      string   `field:"file_pattern" validate:"required"`
	ParserID         string   `field:"parser_id" validate:"required"`
	StagingTable     string   `field:"staging_table" validate:"required,sqlident"`
	DestinationTable string   `field:"destination_table" validate:"required,sqlident,nefield=StagingTable"`
	TransformID      string   `field:"transform_id" validate:"required"`
	LoadMode         string   `field:"load_method" validate:"required,oneof=replace append"`
	DedupKey         []string `field:"deduplication_key" validate:"dive,sqlident"`
	Successor        string   `field:"successor_import" validate:"omitempty,max=100"`
	DependsOn        []string `field:"depends_on" validate:"dive,required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("field"); name != "" {
			return name
		}
		return f.Name
	})
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return warehouse.ValidIdentifier(fl.Field().String())
	})
	return v
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "oneof":
		return fmt.Sprintf("unknown value %q, expected one of: %s", fe.Value(), fe.Param())
	case "sqlident":
		return fmt.Sprintf("%q is not a valid table or column identifier", fe.Value())
	case "nefield":
		return "staging and destination must be different tables"
	case "max":
		return "value is too long"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
