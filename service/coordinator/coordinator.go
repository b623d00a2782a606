/*
 * @module service/coordinator/coordinator
 * @description 运行协调器，负责单次运行的完整生命周期
 * @architecture 分层架构 - 编排层
 * @stateFlow 分配运行标识 -> 抽取 -> 暂存 -> 质量门 -> [互斥区: 启用检查 -> 去重 -> 转换 -> 生命周期切换] -> 写运行日志
 * @rules 任一阶段失败跳过后续阶段但一定写运行日志；错误不跨运行传播；超时释放互斥区；同批次 replace 只清空一次
 * @dependencies github.com/google/uuid, github.com/cenkalti/backoff/v4, github.com/jonboulle/clockwork
 * @refs service/quality, service/lifecycle, service/routines, service/distributed_lock
 */

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"elt-service/service/distributed_lock"
	"elt-service/service/lifecycle"
	"elt-service/service/monitoring"
	"elt-service/service/pipeline"
	"elt-service/service/quality"
	"elt-service/service/routines"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Extractor 解析例程入口
type Extractor interface {
	Extract(ctx context.Context, parserID, inputRef string) (pipeline.Batch, error)
}

// Transformer 转换例程入口
type Transformer interface {
	Transform(ctx context.Context, transformID string, call routines.TransformCall) error
}

// Stager 暂存写入
type Stager interface {
	AppendBatch(ctx context.Context, table, runID string, batch pipeline.Batch) (int64, error)
}

// Gate 质量门
type Gate interface {
	Evaluate(ctx context.Context, target, runID string) (quality.Report, error)
}

// Lifecycle 去重与自切换
type Lifecycle interface {
	Deduplicate(ctx context.Context, staging, destination, runID string, key []string) (int64, error)
	HasSwitched(ctx context.Context, def pipeline.Definition) (bool, error)
	IsActive(ctx context.Context, def pipeline.Definition) (bool, error)
	ApplyTransition(ctx context.Context, def pipeline.Definition, runID string) (bool, error)
}

// RunLogWriter 运行日志写入
type RunLogWriter interface {
	Write(ctx context.Context, kind pipeline.TriggerKind, outcome pipeline.RunOutcome) error
}

// Notifier 运行结果通知，失败不影响运行
type Notifier interface {
	Notify(ctx context.Context, outcome pipeline.RunOutcome)
}

// Config 协调器配置
type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Extractor   Extractor
	Stager      Stager
	Gate        Gate
	Lifecycle   Lifecycle
	Transformer Transformer
	Locker      distributed_lock.Locker
	RunLogs     RunLogWriter
	Notifier    Notifier
	Batches     *lifecycle.BatchTracker

	RunTimeout time.Duration
	NewRunID   func() (string, error)
}

// Validate 校验并填充默认值
func (cfg *Config) Validate() error {
	switch {
	case cfg.Extractor == nil:
		return errors.New("extractor is required")
	case cfg.Stager == nil:
		return errors.New("stager is required")
	case cfg.Gate == nil:
		return errors.New("quality gate is required")
	case cfg.Lifecycle == nil:
		return errors.New("lifecycle manager is required")
	case cfg.Transformer == nil:
		return errors.New("transformer is required")
	case cfg.RunLogs == nil:
		return errors.New("run log writer is required")
	}

	// Optional with default
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Locker == nil {
		cfg.Locker = distributed_lock.NewLocalLocker()
	}
	if cfg.Batches == nil {
		cfg.Batches = lifecycle.NewBatchTracker(cfg.Clock, time.Hour)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = newRunID
	}
	return nil
}

// newRunID UUIDv7 全局唯一且按时间排序
func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Coordinator 运行协调器
type Coordinator struct {
	log *slog.Logger
	cfg Config
}

// New 创建运行协调器
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate coordinator config: %w", err)
	}
	return &Coordinator{log: cfg.Logger, cfg: cfg}, nil
}

type stageError struct {
	stage pipeline.Stage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage pipeline.Stage, err error) error {
	return &stageError{stage: stage, err: err}
}

// errInactive 定义在排队期间被停用且不属于自切换链
var errInactive = errors.New("definition is inactive")

// Execute 执行一次运行，总是返回结果而不是错误
func (c *Coordinator) Execute(ctx context.Context, event pipeline.TriggerEvent) pipeline.RunOutcome {
	monitoring.RunsInFlight.Inc()
	defer monitoring.RunsInFlight.Dec()

	id, err := c.cfg.NewRunID()
	if err != nil {
		// 没有运行标识时仍然生成失败结果
		id = uuid.NewString()
		c.log.Error("coordinator: failed to allocate time-ordered run id", "error", err)
	}
	run := pipeline.NewRun(id, event, c.cfg.Clock.Now())
	log := c.log.With("run_id", run.ID, "import_name", run.Definition.ImportName)
	log.Info("coordinator: run started", "input_ref", run.InputRef, "trigger", run.Kind)

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	err = c.execute(runCtx, run, event)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case errors.Is(err, errInactive):
		run.Skip(pipeline.StageTransform, c.cfg.Clock.Now())
		log.Warn("coordinator: run skipped, definition deactivated while queued")
	case err != nil:
		stage := pipeline.StageStart
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
			err = se.err
		}
		if timedOut {
			stage = pipeline.StageTimeout
		}
		run.Fail(stage, err, c.cfg.Clock.Now())
		log.Error("coordinator: run failed", "stage", stage, "error", err)
	default:
		run.Succeed(c.cfg.Clock.Now())
		log.Info("coordinator: run succeeded",
			"rows_staged", run.RowsStaged, "rows_removed", run.RowsRemoved,
			"warnings", run.Warnings, "scope", run.Scope, "switched", run.Switched)
	}

	outcome := run.Outcome()
	c.record(ctx, event.Kind, outcome)
	return outcome
}

func (c *Coordinator) execute(ctx context.Context, run *pipeline.Run, event pipeline.TriggerEvent) error {
	def := run.Definition
	log := c.log.With("run_id", run.ID, "import_name", def.ImportName)

	// 抽取
	run.Stage = pipeline.StageExtract
	batch, err := extractWithContext(ctx, c.cfg.Extractor, def.ParserID, run.InputRef)
	if err != nil {
		return atStage(pipeline.StageExtract, &pipeline.ExtractError{ParserID: def.ParserID, InputRef: run.InputRef, Err: err})
	}
	if batch, err = batch.Rename(def.ColumnMapping); err != nil {
		return atStage(pipeline.StageExtract, &pipeline.ExtractError{ParserID: def.ParserID, InputRef: run.InputRef, Err: err})
	}
	run.RowsRead = int64(batch.Len())

	// 暂存：始终追加，与加载模式无关
	run.Stage = pipeline.StageStage
	staged, err := c.cfg.Stager.AppendBatch(ctx, def.StagingTable, run.ID, batch)
	if err != nil {
		return atStage(pipeline.StageStage, err)
	}
	run.RowsStaged = staged
	monitoring.RowsStaged.WithLabelValues(def.ImportName).Add(float64(staged))

	// 质量门
	run.Stage = pipeline.StageQuality
	report, err := c.cfg.Gate.Evaluate(ctx, def.StagingTable, run.ID)
	if err != nil {
		return atStage(pipeline.StageQuality, err)
	}
	run.Verdict = report.Verdict
	run.Warnings = report.Warned
	for _, r := range report.Results {
		monitoring.RuleResultsTotal.WithLabelValues(def.StagingTable, string(r.Status)).Inc()
	}
	if err := report.Gate(def.StagingTable, run.ID); err != nil {
		return atStage(pipeline.StageQuality, err)
	}

	// 互斥区覆盖自身目标表和所有可能清空的表
	keys := append([]string{def.DestinationTable}, lifecycle.ResolveScope(event, false)...)
	waitStart := c.cfg.Clock.Now()
	release, err := c.cfg.Locker.Acquire(ctx, keys)
	if err != nil {
		return atStage(pipeline.StageTransform, fmt.Errorf("acquire destination lock: %w", err))
	}
	defer release()
	monitoring.LockWaitDuration.Observe(c.cfg.Clock.Since(waitStart).Seconds())

	switched, err := c.cfg.Lifecycle.HasSwitched(ctx, def)
	if err != nil {
		return atStage(pipeline.StageTransform, fmt.Errorf("read lifecycle state: %w", err))
	}
	if !switched {
		active, err := c.cfg.Lifecycle.IsActive(ctx, def)
		if err != nil {
			return atStage(pipeline.StageTransform, fmt.Errorf("read definition state: %w", err))
		}
		if !active {
			return errInactive
		}
	}
	mode := lifecycle.EffectiveMode(def, switched)
	scope := lifecycle.ResolveScope(event, switched)
	if switched {
		log.Info("coordinator: definition already switched, loading as append")
	}
	if mode == pipeline.LoadModeReplace && c.cfg.Batches.Cleared(event.BatchID, def.DestinationTable) {
		// 同批次的前一个输入已清空目标表
		mode = pipeline.LoadModeAppend
		scope = slices.DeleteFunc(scope, func(t string) bool { return t == def.DestinationTable })
		log.Info("coordinator: destination already cleared in this batch, loading as append", "batch_id", event.BatchID)
	}

	// 去重
	if mode == pipeline.LoadModeAppend && def.HasDedupKey() {
		run.Stage = pipeline.StageDedup
		removed, err := c.cfg.Lifecycle.Deduplicate(ctx, def.StagingTable, def.DestinationTable, run.ID, def.DedupKey)
		if err != nil {
			return atStage(pipeline.StageDedup, err)
		}
		run.RowsRemoved = removed
	}

	// 转换：同步调用，返回之前不释放互斥区
	run.Stage = pipeline.StageTransform
	run.Scope = scope
	if err := c.cfg.Transformer.Transform(ctx, def.TransformID, routines.TransformCall{
		RunID:      run.ID,
		Scope:      run.Scope,
		Definition: def,
	}); err != nil {
		return atStage(pipeline.StageTransform, &pipeline.TransformError{TransformID: def.TransformID, Err: err})
	}
	if err := ctx.Err(); err != nil {
		// 转换未响应取消，返回时已超过截止时间；目标表中可能已有本次运行的行
		log.Error("coordinator: transform returned after run deadline",
			"transform_id", def.TransformID, "destination", def.DestinationTable, "error", err)
		return atStage(pipeline.StageTransform, err)
	}
	if slices.Contains(run.Scope, def.DestinationTable) {
		c.cfg.Batches.MarkCleared(event.BatchID, def.DestinationTable)
	}

	// 生命周期切换失败只记录，不影响运行结果
	if def.HasSuccessor() && !switched {
		applied, err := c.cfg.Lifecycle.ApplyTransition(ctx, def, run.ID)
		switch {
		case err != nil:
			monitoring.LifecycleSwitchesTotal.WithLabelValues("error").Inc()
			log.Error("coordinator: lifecycle switch failed, manual correction required",
				"successor", def.Successor, "error", err)
		case applied:
			monitoring.LifecycleSwitchesTotal.WithLabelValues("applied").Inc()
			run.Switched = true
		default:
			monitoring.LifecycleSwitchesTotal.WithLabelValues("noop").Inc()
		}
	}
	return nil
}

// extractWithContext 解析可能不感知 ctx，超时后不再等待
func extractWithContext(ctx context.Context, ex Extractor, parserID, inputRef string) (pipeline.Batch, error) {
	type result struct {
		batch pipeline.Batch
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := ex.Extract(ctx, parserID, inputRef)
		ch <- result{b, err}
	}()
	select {
	case r := <-ch:
		return r.batch, r.err
	case <-ctx.Done():
		return pipeline.Batch{}, ctx.Err()
	}
}

func (c *Coordinator) record(ctx context.Context, kind pipeline.TriggerKind, outcome pipeline.RunOutcome) {
	monitoring.RunsTotal.WithLabelValues(outcome.ImportName, string(outcome.Status), string(outcome.Stage)).Inc()
	monitoring.RunDuration.WithLabelValues(outcome.ImportName).Observe(outcome.Duration().Seconds())

	// 运行可能因取消而结束，日志仍需写入
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.cfg.RunLogs.Write(wctx, kind, outcome); err != nil {
		c.log.Error("coordinator: failed to write run log", "run_id", outcome.RunID, "error", err)
	}
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(wctx, outcome)
	}
}
