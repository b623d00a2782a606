/*
 * @module service/notify/notify
 * @description 运行结果通知扇出：反馈日志文件、Kafka、MQTT、Dapr pub/sub
 * @architecture 分层架构 - 集成层
 * @rules 通知失败只记录日志，不影响运行结果；通知内容只包含对外简短信息
 */

package notify

import (
	"context"
	"log/slog"
	"time"

	"elt-service/service/pipeline"
)

// Sink 单个通知渠道
type Sink interface {
	Name() string
	Send(ctx context.Context, outcome pipeline.RunOutcome) error
	Close() error
}

// Fanout 依次发送到所有渠道
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewFanout 创建扇出通知
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, timeout: 5 * time.Second, logger: logger}
}

// Add 增加渠道
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len 渠道数量
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Notify 实现 coordinator.Notifier
func (f *Fanout) Notify(ctx context.Context, outcome pipeline.RunOutcome) {
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := s.Send(sctx, outcome); err != nil {
			f.logger.Warn("notify: send failed", "sink", s.Name(), "run_id", outcome.RunID, "error", err)
		}
		cancel()
	}
}

// Close 关闭所有渠道
func (f *Fanout) Close() {
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.logger.Warn("notify: close failed", "sink", s.Name(), "error", err)
		}
	}
}
