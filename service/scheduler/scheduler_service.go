/**
 * @module SchedulerService
 * @description 定时管道调度器，按定义中的 schedule_cron 触发导入
 * @architecture 基于 cron 的调度器模式
 * @stateFlow 重载定义 -> 对比表达式 -> 增删 cron 条目 -> 到点触发（取最新输入）
 * @rules 表达式未变化的条目保持不动；触发失败只记录日志
 * @dependencies github.com/robfig/cron/v3
 * @refs service/orchestrator, service/registry
 */

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"elt-service/service/orchestrator"
	"elt-service/service/pipeline"
	"elt-service/service/registry"

	"github.com/robfig/cron/v3"
)

// Trigger 触发入口
type Trigger interface {
	TriggerImport(ctx context.Context, req orchestrator.TriggerRequest) (orchestrator.TriggerResult, error)
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// SchedulerService 调度器服务
type SchedulerService struct {
	cron    *cron.Cron
	trigger Trigger
	logger  *slog.Logger
	ctx     context.Context

	mu      sync.Mutex
	entries map[string]entry
}

// NewSchedulerService 创建调度器服务
func NewSchedulerService(ctx context.Context, trigger Trigger, logger *slog.Logger) *SchedulerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerService{
		cron:    cron.New(cron.WithParser(registry.ScheduleParser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		trigger: trigger,
		logger:  logger,
		ctx:     ctx,
		entries: make(map[string]entry),
	}
}

// Start 启动调度器
func (s *SchedulerService) Start() {
	s.cron.Start()
	s.logger.Info("scheduler: started")
}

// Stop 停止调度器，等待正在执行的任务
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
}

// Sync 与最新定义对齐，作为编排重载回调
func (s *SchedulerService) Sync(res registry.LoadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string)
	for _, d := range res.Definitions {
		if d.ScheduleCron != "" {
			wanted[d.ImportName] = d.ScheduleCron
		}
	}

	for name, e := range s.entries {
		if wanted[name] == e.schedule {
			continue
		}
		s.cron.Remove(e.id)
		delete(s.entries, name)
		s.logger.Info("scheduler: removed schedule", "import_name", name, "schedule", e.schedule)
	}

	for name, schedule := range wanted {
		if _, ok := s.entries[name]; ok {
			continue
		}
		importName := name
		id, err := s.cron.AddFunc(schedule, func() { s.fire(importName) })
		if err != nil {
			s.logger.Warn("scheduler: invalid schedule", "import_name", name, "schedule", schedule, "error", err)
			continue
		}
		s.entries[name] = entry{id: id, schedule: schedule}
		s.logger.Info("scheduler: added schedule", "import_name", name, "schedule", schedule)
	}
}

// Scheduled 当前生效的表达式
func (s *SchedulerService) Scheduled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.schedule
	}
	return out
}

func (s *SchedulerService) fire(importName string) {
	_, err := s.trigger.TriggerImport(s.ctx, orchestrator.TriggerRequest{
		ImportName: importName,
		Kind:       pipeline.TriggerSchedule,
	})
	switch {
	case errors.Is(err, pipeline.ErrNoInput):
		s.logger.Info("scheduler: no input for scheduled import", "import_name", importName)
	case err != nil:
		s.logger.Error("scheduler: scheduled trigger failed", "import_name", importName, "error", err)
	default:
		s.logger.Info("scheduler: scheduled run dispatched", "import_name", importName)
	}
}
