/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify
 * @refs service/models
 */

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"elt-service/service/database"
	"elt-service/service/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建内存测试数据库并迁移全部模型
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}
	// 内存库每个连接独立，固定为单连接
	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql db: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}
	return &TestDB{DB: db}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// Exec 执行建表等语句，失败时终止测试
func (tdb *TestDB) Exec(t testing.TB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		require.NoError(t, tdb.DB.Exec(s).Error, s)
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// PipelineOption 管道配置选项函数类型
type PipelineOption func(*models.PipelineConfig)

// CreatePipelineConfig 创建测试管道配置，默认 replace 模式、csv 解析、insert_from_staging 转换
func (f *TestDataFactory) CreatePipelineConfig(importName string, opts ...PipelineOption) *models.PipelineConfig {
	cfg := &models.PipelineConfig{
		PipelineName:     "sales",
		ImportName:       importName,
		FilePattern:      importName + "_*.csv",
		ParserID:         "csv",
		StagingTable:     "stg_" + importName,
		DestinationTable: "dw_" + importName,
		TransformID:      "insert_from_staging",
		LoadMethod:       "replace",
		IsActive:         true,
		CreatedAt:        nextTimestamp(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(cfg)
	}

	if err := f.DB.Create(cfg).Error; err != nil {
		panic(fmt.Sprintf("failed to create test pipeline config: %v", err))
	}
	return cfg
}

// RuleOption 质量规则选项函数类型
type RuleOption func(*models.QualityRule)

// CreateQualityRule 创建测试质量规则
func (f *TestDataFactory) CreateQualityRule(target, column, checkType, severity string, opts ...RuleOption) *models.QualityRule {
	rule := &models.QualityRule{
		TargetTable: target,
		ColumnName:  column,
		CheckType:   checkType,
		Severity:    severity,
		IsActive:    true,
		CreatedAt:   nextTimestamp(),
	}
	for _, opt := range opts {
		opt(rule)
	}
	if err := f.DB.Create(rule).Error; err != nil {
		panic(fmt.Sprintf("failed to create test quality rule: %v", err))
	}
	return rule
}

var clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// nextTimestamp 保证按创建顺序严格递增
func nextTimestamp() time.Time {
	clock = clock.Add(time.Second)
	return clock
}

// WriteFile 在目录中写入文件并设置修改时间
func WriteFile(t testing.TB, dir, name, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}
