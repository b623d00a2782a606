package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"elt-service/service/pipeline"

	"github.com/alitto/pond/v2"
)

var (
	// ErrDispatcherStopped 调度器已停止
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrRunAborted 运行异常中止，未产生结果
	ErrRunAborted = errors.New("run aborted")
)

// Executor 执行单个触发事件
type Executor interface {
	Execute(ctx context.Context, event pipeline.TriggerEvent) pipeline.RunOutcome
}

// Dispatcher 每个触发事件一个独立执行单元，事件之间互不影响
type Dispatcher struct {
	log      *slog.Logger
	executor Executor
	pool     pond.Pool
	ctx      context.Context

	mu        sync.RWMutex
	stopped   bool
	listeners []func(pipeline.RunOutcome)
}

// NewDispatcher 创建调度器，maxConcurrency 限制同时执行的运行数
func NewDispatcher(ctx context.Context, executor Executor, maxConcurrency int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Dispatcher{
		log:      logger,
		executor: executor,
		pool:     pond.NewPool(maxConcurrency, pond.WithContext(ctx)),
		ctx:      ctx,
	}
}

// OnOutcome 注册运行结束回调
func (d *Dispatcher) OnOutcome(fn func(pipeline.RunOutcome)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Dispatch 提交事件，不等待执行
func (d *Dispatcher) Dispatch(_ context.Context, event pipeline.TriggerEvent) error {
	_, err := d.submit(event)
	return err
}

// DispatchAndWait 提交事件并等待结果
func (d *Dispatcher) DispatchAndWait(ctx context.Context, event pipeline.TriggerEvent) (pipeline.RunOutcome, error) {
	ch, err := d.submit(event)
	if err != nil {
		return pipeline.RunOutcome{}, err
	}
	select {
	case o, ok := <-ch:
		if !ok {
			return pipeline.RunOutcome{}, ErrRunAborted
		}
		return o, nil
	case <-ctx.Done():
		return pipeline.RunOutcome{}, ctx.Err()
	}
}

func (d *Dispatcher) submit(event pipeline.TriggerEvent) (<-chan pipeline.RunOutcome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return nil, ErrDispatcherStopped
	}
	ch := make(chan pipeline.RunOutcome, 1)
	task := func() {
		defer func() {
			// 单个运行的 panic 不影响其他运行
			if r := recover(); r != nil {
				d.log.Error("dispatcher: run panicked", "import_name", event.Definition.ImportName, "input_ref", event.InputRef, "panic", r)
				close(ch)
			}
		}()
		o := d.executor.Execute(d.ctx, event)
		d.mu.RLock()
		listeners := append([]func(pipeline.RunOutcome){}, d.listeners...)
		d.mu.RUnlock()
		for _, fn := range listeners {
			fn(o)
		}
		ch <- o
	}
	d.pool.Submit(task)
	return ch, nil
}

// Running 正在执行的运行数
func (d *Dispatcher) Running() int64 {
	return d.pool.RunningWorkers()
}

// Waiting 排队中的事件数
func (d *Dispatcher) Waiting() uint64 {
	return d.pool.WaitingTasks()
}

// Stop 停止接收新事件并等待已提交的运行结束
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.pool.StopAndWait()
}
