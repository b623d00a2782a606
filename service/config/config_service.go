/*
 * @module service/config/config_service
 * @description 运行期可调参数服务，读取 system_configs 表，缺失时使用默认值
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 服务调用 -> 缓存 -> 数据库 -> 默认值
 * @dependencies elt-service/service/models, gorm.io/gorm, github.com/spf13/cast
 */

package config

import (
	"errors"
	"fmt"
	"sync"

	"elt-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

const (
	ConfigKeyRunLogRetentionDays  = "elt.run_log_retention_days"
	ConfigKeyStagingRetentionDays = "elt.staging_retention_days"

	DefaultRunLogRetentionDays  = 30
	DefaultStagingRetentionDays = 7

	defaultEnvironment = "default"
)

// ConfigItem 配置项及其说明
type ConfigItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

var defaults = map[string]ConfigItem{
	ConfigKeyRunLogRetentionDays:  {Key: ConfigKeyRunLogRetentionDays, Value: cast.ToString(DefaultRunLogRetentionDays), Description: "运行日志与规则结果保留天数"},
	ConfigKeyStagingRetentionDays: {Key: ConfigKeyStagingRetentionDays, Value: cast.ToString(DefaultStagingRetentionDays), Description: "暂存表数据保留天数"},
}

// ConfigService 配置服务
type ConfigService struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewConfigService 创建配置服务实例
func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{
		db:    db,
		cache: make(map[string]string),
	}
}

// GetSystemConfig 获取系统配置
func (s *ConfigService) GetSystemConfig(key string) (string, error) {
	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	var cfg models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, defaultEnvironment).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if d, ok := defaults[key]; ok {
				return d.Value, nil
			}
		}
		return "", fmt.Errorf("查询配置 %s 失败: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = cfg.Value
	s.mu.Unlock()
	return cfg.Value, nil
}

// SetSystemConfig 设置系统配置
func (s *ConfigService) SetSystemConfig(key, value, description string) error {
	var cfg models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, defaultEnvironment).First(&cfg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg = models.SystemConfig{
			ID:          key + "@" + defaultEnvironment,
			Key:         key,
			Value:       value,
			Environment: defaultEnvironment,
			Description: description,
		}
		err = s.db.Create(&cfg).Error
	case err == nil:
		err = s.db.Model(&cfg).Updates(map[string]interface{}{"value": value, "description": description}).Error
	}
	if err != nil {
		return fmt.Errorf("保存配置 %s 失败: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

// GetAllSystemConfigs 获取所有系统配置，包括未落库的默认项
func (s *ConfigService) GetAllSystemConfigs() ([]ConfigItem, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("environment = ?", defaultEnvironment).Order("key").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("查询配置失败: %w", err)
	}

	items := make([]ConfigItem, 0, len(configs)+len(defaults))
	seen := make(map[string]bool)
	for _, c := range configs {
		items = append(items, ConfigItem{Key: c.Key, Value: c.Value, Description: c.Description})
		seen[c.Key] = true
	}
	for key, d := range defaults {
		if !seen[key] {
			d.IsDefault = true
			items = append(items, d)
		}
	}
	return items, nil
}

// GetRunLogRetentionDays 获取运行日志保留天数
func (s *ConfigService) GetRunLogRetentionDays() int {
	return s.intValue(ConfigKeyRunLogRetentionDays, DefaultRunLogRetentionDays)
}

// GetStagingRetentionDays 获取暂存数据保留天数
func (s *ConfigService) GetStagingRetentionDays() int {
	return s.intValue(ConfigKeyStagingRetentionDays, DefaultStagingRetentionDays)
}

func (s *ConfigService) intValue(key string, def int) int {
	raw, err := s.GetSystemConfig(key)
	if err != nil {
		return def
	}
	v, err := cast.ToIntE(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ClearCache 清除配置缓存
func (s *ConfigService) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}
