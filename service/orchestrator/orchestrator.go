/*
 * @module service/orchestrator/orchestrator
 * @description 编排入口：重载定义、管理每个管道的传感器、手动触发与整组物化
 * @architecture 分层架构 - 编排层
 * @stateFlow 加载定义 -> 对比快照 -> 停止变更/删除的传感器 -> 启动新增传感器
 * @rules 每次重载都重新读取配置表；手动触发使用最新的定义；触发事件交给调度器异步执行
 * @dependencies golang.org/x/sync/errgroup, github.com/jonboulle/clockwork, github.com/google/go-cmp
 * @refs service/registry, service/sensor, service/coordinator
 */

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"elt-service/service/monitoring"
	"elt-service/service/pipeline"
	"elt-service/service/registry"
	"elt-service/service/sensor"
	"elt-service/service/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Loader 定义来源
type Loader interface {
	LoadActive(ctx context.Context) (registry.LoadResult, error)
}

// Locator 被监视位置解析
type Locator interface {
	Location(location string) (storage.Location, error)
}

// Dispatcher 运行调度
type Dispatcher interface {
	Dispatch(ctx context.Context, event pipeline.TriggerEvent) error
	DispatchAndWait(ctx context.Context, event pipeline.TriggerEvent) (pipeline.RunOutcome, error)
}

// Config 编排配置
type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Loader     Loader
	Locator    Locator
	Cursors    sensor.CursorStore
	Dispatcher Dispatcher

	PollInterval   time.Duration
	ListTimeout    time.Duration
	ReloadInterval time.Duration
}

// Validate 校验并填充默认值
func (cfg *Config) Validate() error {
	switch {
	case cfg.Loader == nil:
		return errors.New("loader is required")
	case cfg.Locator == nil:
		return errors.New("locator is required")
	case cfg.Cursors == nil:
		return errors.New("cursor store is required")
	case cfg.Dispatcher == nil:
		return errors.New("dispatcher is required")
	}

	// Optional with default
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 10 * time.Second
	}
	return nil
}

type runningSensor struct {
	def    pipeline.Definition
	sensor *sensor.Sensor
	cancel context.CancelFunc
}

// Orchestrator 编排器
type Orchestrator struct {
	log *slog.Logger
	cfg Config

	mu        sync.Mutex
	ctx       context.Context
	current   registry.LoadResult
	loadedAt  time.Time
	sensors   map[string]*runningSensor
	listeners []func(registry.LoadResult)
}

// New 创建编排器
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate orchestrator config: %w", err)
	}
	return &Orchestrator{
		log:     cfg.Logger,
		cfg:     cfg,
		sensors: make(map[string]*runningSensor),
	}, nil
}

// OnReload 注册重载回调，例如同步定时任务
func (o *Orchestrator) OnReload(fn func(registry.LoadResult)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Start 首次加载并启动传感器，ReloadInterval > 0 时定期重载
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	if _, err := o.Reload(ctx); err != nil {
		return err
	}
	if o.cfg.ReloadInterval <= 0 {
		return nil
	}
	go func() {
		ticker := o.cfg.Clock.NewTicker(o.cfg.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				o.stopSensors()
				return
			case <-ticker.Chan():
				if _, err := o.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.log.Error("orchestrator: periodic reload failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Reload 重新读取配置表并调整传感器
func (o *Orchestrator) Reload(ctx context.Context) (registry.LoadResult, error) {
	res, err := o.cfg.Loader.LoadActive(ctx)
	if err != nil {
		return registry.LoadResult{}, err
	}
	monitoring.RegistryRejectedRows.Set(float64(len(res.Errors)))

	o.mu.Lock()
	o.current = res
	o.loadedAt = o.cfg.Clock.Now()
	if o.ctx != nil {
		o.syncSensors(res.Definitions)
	}
	listeners := append([]func(registry.LoadResult){}, o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
	return res, nil
}

// syncSensors 调用方持有 o.mu
func (o *Orchestrator) syncSensors(defs []pipeline.Definition) {
	wanted := make(map[string]pipeline.Definition, len(defs))
	for _, d := range defs {
		if d.WatchedLocation != "" {
			wanted[d.ImportName] = d
		}
	}

	for name, rs := range o.sensors {
		d, ok := wanted[name]
		if ok && cmp.Equal(d, rs.def) {
			continue
		}
		rs.cancel()
		delete(o.sensors, name)
		o.log.Info("orchestrator: sensor stopped", "import_name", name)
	}

	for name, d := range wanted {
		if _, ok := o.sensors[name]; ok {
			continue
		}
		loc, err := o.cfg.Locator.Location(d.WatchedLocation)
		if err != nil {
			o.log.Warn("orchestrator: cannot watch location", "import_name", name, "location", d.WatchedLocation, "error", err)
			continue
		}
		s, err := sensor.New(sensor.Config{
			Logger:      o.log,
			Clock:       o.cfg.Clock,
			Definition:  d,
			Location:    loc,
			Cursors:     o.cfg.Cursors,
			Dispatcher:  o.cfg.Dispatcher,
			Interval:    o.cfg.PollInterval,
			ListTimeout: o.cfg.ListTimeout,
		})
		if err != nil {
			o.log.Warn("orchestrator: failed to create sensor", "import_name", name, "error", err)
			continue
		}
		sctx, cancel := context.WithCancel(o.ctx)
		o.sensors[name] = &runningSensor{def: d, sensor: s, cancel: cancel}
		s.Start(sctx)
	}
}

func (o *Orchestrator) stopSensors() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, rs := range o.sensors {
		rs.cancel()
		delete(o.sensors, name)
	}
}

// Stop 停止所有传感器
func (o *Orchestrator) Stop() {
	o.stopSensors()
}

// Current 最近一次加载结果
func (o *Orchestrator) Current() (registry.LoadResult, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.loadedAt
}

// SensorStatuses 按导入名排序的传感器状态
func (o *Orchestrator) SensorStatuses() []sensor.Status {
	o.mu.Lock()
	out := make([]sensor.Status, 0, len(o.sensors))
	for _, rs := range o.sensors {
		out = append(out, rs.sensor.Status())
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ImportName < out[j].ImportName })
	return out
}

// TriggerRequest 手动或定时触发请求
type TriggerRequest struct {
	ImportName string
	InputRef   string
	Kind       pipeline.TriggerKind
	Wait       bool
}

// TriggerResult 触发结果；Wait=false 时只有 Event
// 整组物化中某个成员失败时 Err 非空，Event 只带定义
type TriggerResult struct {
	Event   pipeline.TriggerEvent
	Outcome *pipeline.RunOutcome
	Err     error
}

// TriggerImport 绕过模式匹配直接构造触发事件；未给出输入时取位置中最新的匹配输入
func (o *Orchestrator) TriggerImport(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	res, err := o.cfg.Loader.LoadActive(ctx)
	if err != nil {
		return TriggerResult{}, err
	}
	def, ok := res.Find(req.ImportName)
	if !ok {
		return TriggerResult{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownPipeline, req.ImportName)
	}
	ref := req.InputRef
	var modTime time.Time
	if ref == "" {
		entry, err := o.latest(ctx, def)
		if err != nil {
			return TriggerResult{}, err
		}
		ref, modTime = entry.Ref, entry.ModTime
	}
	kind := req.Kind
	if kind == "" {
		kind = pipeline.TriggerManual
	}
	event := pipeline.TriggerEvent{
		Definition:   def,
		InputRef:     ref,
		Kind:         kind,
		InputModTime: modTime,
		TriggeredAt:  o.cfg.Clock.Now(),
	}
	return o.dispatch(ctx, event, req.Wait)
}

// TriggerGroup 整组物化：每个成员取最新输入各自派发一个事件，截断范围覆盖组内所有 replace 目标
func (o *Orchestrator) TriggerGroup(ctx context.Context, groupName string, wait bool) ([]TriggerResult, error) {
	res, err := o.cfg.Loader.LoadActive(ctx)
	if err != nil {
		return nil, err
	}
	members := res.Group(groupName)
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: group %s", pipeline.ErrUnknownPipeline, groupName)
	}

	// 成员之间互不取消，一个位置不可达不影响其余成员派发
	results := make([]TriggerResult, len(members))
	found := make([]bool, len(members))
	var g errgroup.Group
	for i, def := range members {
		g.Go(func() error {
			entry, err := o.latest(ctx, def)
			if errors.Is(err, pipeline.ErrNoInput) {
				o.log.Info("orchestrator: group member has no input", "group_name", groupName, "import_name", def.ImportName)
				return nil
			}
			event := pipeline.TriggerEvent{
				Definition:   def,
				InputRef:     entry.Ref,
				Kind:         pipeline.TriggerGroup,
				GroupMembers: members,
				InputModTime: entry.ModTime,
				TriggeredAt:  o.cfg.Clock.Now(),
			}
			if err == nil {
				results[i], err = o.dispatch(ctx, event, wait)
			}
			if err != nil {
				o.log.Warn("orchestrator: group member not dispatched",
					"group_name", groupName, "import_name", def.ImportName, "error", err)
				results[i] = TriggerResult{Event: event, Err: err}
			}
			found[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]TriggerResult, 0, len(members))
	var errs []error
	for i, ok := range found {
		if !ok {
			continue
		}
		out = append(out, results[i])
		if results[i].Err != nil {
			errs = append(errs, results[i].Err)
		}
	}
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("%w: group %s", pipeline.ErrNoInput, groupName)
	case len(errs) == len(out):
		return out, errors.Join(errs...)
	}
	return out, nil
}

func (o *Orchestrator) latest(ctx context.Context, def pipeline.Definition) (storage.Entry, error) {
	if def.WatchedLocation == "" {
		return storage.Entry{}, fmt.Errorf("%w: %s has no watched location", pipeline.ErrNoInput, def.ImportName)
	}
	loc, err := o.cfg.Locator.Location(def.WatchedLocation)
	if err != nil {
		return storage.Entry{}, err
	}
	entry, err := sensor.Latest(ctx, loc, def.FilePattern, o.cfg.ListTimeout)
	if err != nil && !errors.Is(err, pipeline.ErrNoInput) {
		return storage.Entry{}, &pipeline.SensorIOError{ImportName: def.ImportName, Location: loc.String(), Err: err}
	}
	return entry, err
}

func (o *Orchestrator) dispatch(ctx context.Context, event pipeline.TriggerEvent, wait bool) (TriggerResult, error) {
	if !wait {
		if err := o.cfg.Dispatcher.Dispatch(ctx, event); err != nil {
			return TriggerResult{}, err
		}
		return TriggerResult{Event: event}, nil
	}
	outcome, err := o.cfg.Dispatcher.DispatchAndWait(ctx, event)
	if err != nil {
		return TriggerResult{}, err
	}
	return TriggerResult{Event: event, Outcome: &outcome}, nil
}
