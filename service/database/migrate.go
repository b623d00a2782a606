/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新 ELT 元数据表结构
 * @architecture 数据访问层 - 迁移管理
 * @stateFlow 应用启动时执行数据库迁移 -> 安装配置变更通知触发器
 * @rules 确保数据库结构与模型定义保持一致；通知触发器仅在 PostgreSQL 上安装
 * @dependencies elt-service/service/models, gorm.io/gorm
 */

package database

import (
	"fmt"
	"log/slog"

	"elt-service/service/models"

	"gorm.io/gorm"
)

// ConfigChangeChannel 配置表变更通知通道
const ConfigChangeChannel = "elt_config_changed"

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移")

	// 配置表
	if err := db.AutoMigrate(
		&models.PipelineConfig{},
		&models.QualityRule{},
		&models.SystemConfig{},
	); err != nil {
		return fmt.Errorf("迁移配置表失败: %w", err)
	}

	// 审计与运行状态表
	if err := db.AutoMigrate(
		&models.RunLog{},
		&models.RuleResultRecord{},
		&models.LifecycleTransition{},
		&models.SensorCursor{},
	); err != nil {
		return fmt.Errorf("迁移审计表失败: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		if err := installConfigNotifyTrigger(db); err != nil {
			// 通知只是加速重载，失败时依赖定时重载
			slog.Warn("安装配置变更通知触发器失败", "error", err)
		}
	}

	slog.Info("数据库迁移完成")
	return nil
}

func installConfigNotifyTrigger(db *gorm.DB) error {
	fn := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION notify_elt_config_changes()
RETURNS TRIGGER AS $$
DECLARE
    payload JSON;
BEGIN
    payload := json_build_object(
        'table', TG_TABLE_NAME,
        'type', TG_OP,
        'timestamp', extract(epoch from now())
    );
    PERFORM pg_notify('%s', payload::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;`, ConfigChangeChannel)
	if err := db.Exec(fn).Error; err != nil {
		return fmt.Errorf("创建通知函数失败: %w", err)
	}

	for _, table := range []string{"elt_pipeline_configs", "elt_quality_rules"} {
		stmt := fmt.Sprintf(`
CREATE OR REPLACE TRIGGER %s_notify
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH STATEMENT
EXECUTE FUNCTION notify_elt_config_changes();`, table, table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("创建触发器 %s 失败: %w", table, err)
		}
	}
	return nil
}
