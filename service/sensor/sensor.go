/*
 * @module service/sensor/sensor
 * @description 触发传感器：定时列举被监视位置，按模式匹配新输入并派发触发事件
 * @architecture 分层架构 - 调度层
 * @stateFlow IDLE -> MATCH_FOUND -> DISPATCHED -> IDLE
 * @rules 同一 (路径, 修改时间) 只派发一次；修改时间前进才重新派发；列举受超时约束
 * @dependencies github.com/jonboulle/clockwork
 * @refs service/orchestrator, service/coordinator
 */

package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"elt-service/service/pipeline"
	"elt-service/service/storage"

	"github.com/jonboulle/clockwork"
)

// State 传感器状态
type State string

const (
	StateIdle       State = "IDLE"
	StateMatchFound State = "MATCH_FOUND"
	StateDispatched State = "DISPATCHED"
)

// Dispatcher 接收触发事件，不得阻塞
type Dispatcher interface {
	Dispatch(ctx context.Context, event pipeline.TriggerEvent) error
}

// Config 传感器配置
type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Definition pipeline.Definition
	Location   storage.Location
	Cursors    CursorStore
	Dispatcher Dispatcher

	Interval    time.Duration
	ListTimeout time.Duration
}

// Validate 校验并填充默认值
func (cfg *Config) Validate() error {
	if cfg.Location == nil {
		return errors.New("location is required")
	}
	if cfg.Cursors == nil {
		return errors.New("cursor store is required")
	}
	if cfg.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if cfg.Definition.ImportName == "" || cfg.Definition.FilePattern == "" {
		return errors.New("definition with import name and pattern is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}

	// Optional with default
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// Status 对外暴露的传感器状态
type Status struct {
	ImportName string    `json:"import_name"`
	Location   string    `json:"location"`
	Pattern    string    `json:"pattern"`
	State      State     `json:"state"`
	LastTick   time.Time `json:"last_tick"`
	LastError  string    `json:"last_error,omitempty"`
	Dispatched int64     `json:"dispatched"`
}

// Sensor 单个管道的传感器
type Sensor struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	state      State
	lastTick   time.Time
	lastErr    error
	dispatched int64
}

// New 创建传感器
func New(cfg Config) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate sensor config: %w", err)
	}
	cfg.Definition = cfg.Definition.Clone()
	return &Sensor{
		log:   cfg.Logger.With("import_name", cfg.Definition.ImportName),
		cfg:   cfg,
		state: StateIdle,
	}, nil
}

// Start 在后台按固定间隔轮询，ctx 取消后退出
func (s *Sensor) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run 立即执行一次，然后按间隔执行
func (s *Sensor) Run(ctx context.Context) {
	s.log.Info("sensor: starting poll loop", "location", s.cfg.Location.String(), "interval", s.cfg.Interval)
	s.tickAndLog(ctx)

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sensor: stopped")
			return
		case <-ticker.Chan():
			s.tickAndLog(ctx)
		}
	}
}

func (s *Sensor) tickAndLog(ctx context.Context) {
	n, err := s.Tick(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("sensor: tick failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("sensor: dispatched events", "count", n)
	}
}

// Tick 执行一次轮询，返回派发的事件数
func (s *Sensor) Tick(ctx context.Context) (int, error) {
	now := s.cfg.Clock.Now()
	entries, err := s.list(ctx)
	if err != nil {
		s.record(now, StateIdle, err, 0)
		return 0, err
	}

	pending, err := s.newMatches(ctx, entries)
	if err != nil {
		s.record(now, StateIdle, err, 0)
		return 0, err
	}
	if len(pending) == 0 {
		s.record(now, StateIdle, nil, 0)
		return 0, nil
	}
	s.setState(StateMatchFound)

	batchID := fmt.Sprintf("%s@%d", s.cfg.Definition.ImportName, now.UnixNano())
	emitted := 0
	var firstErr error
	for _, e := range pending {
		event := pipeline.TriggerEvent{
			Definition:   s.cfg.Definition.Clone(),
			InputRef:     e.Ref,
			Kind:         pipeline.TriggerSensor,
			InputModTime: e.ModTime,
			TriggeredAt:  s.cfg.Clock.Now(),
			BatchID:      batchID,
		}
		if err := s.cfg.Dispatcher.Dispatch(ctx, event); err != nil {
			// 未记录游标，下个周期重试
			s.log.Warn("sensor: dispatch failed", "input_ref", e.Ref, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.cfg.Cursors.Put(ctx, s.cfg.Definition.ImportName, e.Ref, e.ModTime); err != nil {
			s.log.Error("sensor: failed to persist cursor", "input_ref", e.Ref, "error", err)
		}
		emitted++
		s.setState(StateDispatched)
	}

	s.record(now, StateIdle, firstErr, emitted)
	return emitted, firstErr
}

// list 列举调用放在独立 goroutine 中，超时后立即返回，不等待不可达位置
func (s *Sensor) list(ctx context.Context) ([]storage.Entry, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	defer cancel()

	type result struct {
		entries []storage.Entry
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		entries, err := s.cfg.Location.List(listCtx)
		ch <- result{entries, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &pipeline.SensorIOError{ImportName: s.cfg.Definition.ImportName, Location: s.cfg.Location.String(), Err: r.err}
		}
		return r.entries, nil
	case <-listCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &pipeline.SensorIOError{ImportName: s.cfg.Definition.ImportName, Location: s.cfg.Location.String(), Err: listCtx.Err()}
	}
}

// newMatches 过滤出匹配模式且修改时间前进的输入，按修改时间升序
func (s *Sensor) newMatches(ctx context.Context, entries []storage.Entry) ([]storage.Entry, error) {
	var out []storage.Entry
	for _, e := range entries {
		if !Matches(s.cfg.Definition.FilePattern, e.Name) {
			continue
		}
		seen, ok, err := s.cfg.Cursors.Get(ctx, s.cfg.Definition.ImportName, e.Ref)
		if err != nil {
			return nil, fmt.Errorf("read cursor: %w", err)
		}
		if ok && !e.ModTime.After(seen) {
			continue
		}
		out = append(out, e)
	}
	sortByModTime(out)
	return out, nil
}

func (s *Sensor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Sensor) record(tick time.Time, st State, err error, emitted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.lastTick = tick
	s.lastErr = err
	s.dispatched += int64(emitted)
}

// Status 当前状态快照
func (s *Sensor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ImportName: s.cfg.Definition.ImportName,
		Location:   s.cfg.Location.String(),
		Pattern:    s.cfg.Definition.FilePattern,
		State:      s.state,
		LastTick:   s.lastTick,
		Dispatched: s.dispatched,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Matches glob 模式匹配文件名
func Matches(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

func sortByModTime(entries []storage.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Ref < entries[j].Ref
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
}

// Latest 返回位置中匹配模式的最新输入，供未指定输入的手动触发使用
func Latest(ctx context.Context, loc storage.Location, pattern string, timeout time.Duration) (storage.Entry, error) {
	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries, err := loc.List(listCtx)
	if err != nil {
		return storage.Entry{}, err
	}
	var matched []storage.Entry
	for _, e := range entries {
		if Matches(pattern, e.Name) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return storage.Entry{}, pipeline.ErrNoInput
	}
	sortByModTime(matched)
	return matched[len(matched)-1], nil
}
