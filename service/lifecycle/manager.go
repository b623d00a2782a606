/*
 * @module service/lifecycle/manager
 * @description 生命周期管理：暂存去重、清空范围判定、replace -> append 自切换
 * @architecture 分层架构 - 业务服务层
 * @stateFlow active(replace) --成功运行--> inactive + 后继 active(append)
 * @rules 自切换是核心对配置表的唯一写操作，以版本号为条件更新，重复执行为空操作
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/coordinator
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"elt-service/service/models"
	"elt-service/service/pipeline"
	"elt-service/service/warehouse"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var errSuccessorMissing = errors.New("successor definition not found")

// Manager 生命周期管理器
type Manager struct {
	db     *gorm.DB
	wh     *warehouse.Warehouse
	logger *slog.Logger
	now    func() time.Time
}

// NewManager 创建生命周期管理器
func NewManager(wh *warehouse.Warehouse, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: wh.DB(), wh: wh, logger: logger, now: time.Now}
}

// Deduplicate 从暂存表中删除本次运行里键已存在于目标表的行，不修改目标表
func (m *Manager) Deduplicate(ctx context.Context, staging, destination, runID string, key []string) (int64, error) {
	if len(key) == 0 {
		return 0, nil
	}
	stg, err := warehouse.QuoteTable(staging)
	if err != nil {
		return 0, err
	}
	dst, err := warehouse.QuoteTable(destination)
	if err != nil {
		return 0, err
	}
	conds := make([]string, len(key))
	for i, k := range key {
		col, err := warehouse.QuoteColumn(k)
		if err != nil {
			return 0, err
		}
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", dst, col, stg, col)
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND EXISTS (SELECT 1 FROM %s WHERE %s)",
		stg, pq.QuoteIdentifier(m.wh.LineageColumn()), dst, strings.Join(conds, " AND "))
	res := m.db.WithContext(ctx).Exec(q, runID)
	if res.Error != nil {
		return 0, fmt.Errorf("deduplicate %s against %s: %w", staging, destination, res.Error)
	}
	return res.RowsAffected, nil
}

// EffectiveMode 本次运行实际使用的加载模式
// 依赖上游导入或快照已被切换的定义一律按 append 处理
func EffectiveMode(def pipeline.Definition, switched bool) pipeline.LoadMode {
	if switched || len(def.DependsOn) > 0 {
		return pipeline.LoadModeAppend
	}
	return def.LoadMode
}

// ResolveScope 计算本次运行允许清空的目标表
// 单输入触发只可能包含自身目标表；整组物化包含组内所有 replace 模式成员的目标表
func ResolveScope(event pipeline.TriggerEvent, switched bool) []string {
	def := event.Definition
	if event.Kind != pipeline.TriggerGroup {
		if EffectiveMode(def, switched) == pipeline.LoadModeReplace {
			return []string{def.DestinationTable}
		}
		return []string{}
	}

	set := make(map[string]struct{})
	members := event.GroupMembers
	if len(members) == 0 {
		members = []pipeline.Definition{def}
	}
	for _, member := range members {
		if member.GroupName != def.GroupName {
			continue
		}
		memberSwitched := switched && member.ImportName == def.ImportName
		if EffectiveMode(member, memberSwitched) == pipeline.LoadModeReplace {
			set[member.DestinationTable] = struct{}{}
		}
	}
	scope := make([]string, 0, len(set))
	for t := range set {
		scope = append(scope, t)
	}
	sort.Strings(scope)
	return scope
}

// HasSwitched 该定义快照是否已经完成过自切换
func (m *Manager) HasSwitched(ctx context.Context, def pipeline.Definition) (bool, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&models.LifecycleTransition{}).
		Where("from_import = ? AND from_version = ?", def.ImportName, def.Version).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsActive 配置表中该定义当前是否启用，无配置行标识的定义视为启用
func (m *Manager) IsActive(ctx context.Context, def pipeline.Definition) (bool, error) {
	if def.ID == "" {
		return true, nil
	}
	var row models.PipelineConfig
	err := m.db.WithContext(ctx).Select("is_active").Where("id = ?", def.ID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.IsActive, nil
}

// ApplyTransition 停用当前定义并激活后继定义（强制 append）
// 当前定义已停用或版本已变化时返回 false 且不报错
func (m *Manager) ApplyTransition(ctx context.Context, def pipeline.Definition, runID string) (bool, error) {
	if !def.HasSuccessor() {
		return false, nil
	}

	applied := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := m.now()
		res := tx.Model(&models.PipelineConfig{}).
			Where("id = ? AND is_active = ? AND version = ?", def.ID, true, def.Version).
			Updates(map[string]interface{}{
				"is_active":  false,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		res = tx.Model(&models.PipelineConfig{}).
			Where("import_name = ?", def.Successor).
			Updates(map[string]interface{}{
				"is_active":   true,
				"load_method": string(pipeline.LoadModeAppend),
				"version":     gorm.Expr("version + 1"),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errSuccessorMissing
		}

		if err := tx.Create(&models.LifecycleTransition{
			FromImport:  def.ImportName,
			FromVersion: def.Version,
			ToImport:    def.Successor,
			RunID:       runID,
		}).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, &pipeline.LifecycleWriteError{ImportName: def.ImportName, Successor: def.Successor, Err: err}
	}

	if applied {
		m.logger.Info("lifecycle: switched definition",
			"import_name", def.ImportName, "successor", def.Successor, "run_id", runID, "from_version", def.Version)
	} else {
		m.logger.Debug("lifecycle: transition already applied", "import_name", def.ImportName, "run_id", runID)
	}
	return applied, nil
}
