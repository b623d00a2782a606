/*
 * @module service/models/system_config
 * @description 系统配置模型，存储运行期可调参数（保留天数等）
 * @architecture 数据模型层
 * @dependencies gorm.io/gorm
 * @refs service/config/config_service.go
 */

package models

import (
	"time"
)

// SystemConfig 系统配置模型
type SystemConfig struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	Key         string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_config_key_env" json:"key"`
	Value       string    `gorm:"type:text;not null" json:"value"`
	Environment string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_config_key_env" json:"environment"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SystemConfig) TableName() string {
	return "system_configs"
}
