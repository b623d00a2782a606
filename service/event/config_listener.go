/*
 * @module service/event/config_listener
 * @description 监听配置表变更通知，触发编排重载
 * @architecture 事件驱动架构 - 基础设施层
 * @stateFlow LISTEN elt_config_changed -> 合并短时间内的通知 -> 重载
 * @rules 连接断开由 pq.Listener 自动重连；重连后补一次重载，避免漏掉断线期间的变更
 * @dependencies github.com/lib/pq
 * @refs service/database/migrate.go, service/orchestrator
 */

package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"elt-service/service/database"

	"github.com/lib/pq"
)

// ChangeNotification 触发器发出的通知内容
type ChangeNotification struct {
	Table     string  `json:"table"`
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// ParseNotification 解析通知内容
func ParseNotification(extra string) (ChangeNotification, error) {
	var n ChangeNotification
	err := json.Unmarshal([]byte(extra), &n)
	return n, err
}

// ConfigListener 配置变更监听器
type ConfigListener struct {
	connStr  string
	reload   func(ctx context.Context) error
	debounce time.Duration
	logger   *slog.Logger
}

// NewConfigListener reload 在收到变更后调用
func NewConfigListener(connStr string, reload func(ctx context.Context) error, logger *slog.Logger) *ConfigListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigListener{connStr: connStr, reload: reload, debounce: 2 * time.Second, logger: logger}
}

// Run 阻塞直到 ctx 取消
func (l *ConfigListener) Run(ctx context.Context) error {
	reconnected := make(chan struct{}, 1)
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn("config listener: connection event", "event", ev, "error", err)
		}
		if ev == pq.ListenerEventReconnected {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		}
	})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(database.ConfigChangeChannel); err != nil {
		return err
	}
	l.logger.Info("config listener: started", "channel", database.ConfigChangeChannel)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("config listener: stopped")
			return nil
		case n := <-listener.Notify:
			// 重连时会收到 nil
			if n != nil {
				if change, err := ParseNotification(n.Extra); err == nil {
					l.logger.Debug("config listener: change received", "table", change.Table, "type", change.Type)
				}
			}
			if pending == nil {
				pending = time.After(l.debounce)
			}
		case <-reconnected:
			if pending == nil {
				pending = time.After(l.debounce)
			}
		case <-pending:
			pending = nil
			if err := l.reload(ctx); err != nil {
				l.logger.Error("config listener: reload failed", "error", err)
			}
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				l.logger.Warn("config listener: ping failed", "error", err)
			}
		}
	}
}
