/*
 * @module service/quality/engine
 * @description 质量门引擎，对本次运行写入暂存表的数据逐条评估声明式规则
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 加载启用规则 -> 按顺序评估 -> 追加规则结果 -> 汇总结论
 * @rules 只评估血缘列等于当前运行标识的行；规则内部错误记为 ERROR，不单独导致运行失败
 * @dependencies gorm.io/gorm
 * @refs service/coordinator
 */

package quality

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"elt-service/service/pipeline"
)

// Counter 计算单条规则的失败行数
type Counter interface {
	Count(ctx context.Context, rule pipeline.Rule, target, runID string) (int64, error)
}

// CounterFunc 函数适配
type CounterFunc func(ctx context.Context, rule pipeline.Rule, target, runID string) (int64, error)

// Count 实现 Counter
func (f CounterFunc) Count(ctx context.Context, rule pipeline.Rule, target, runID string) (int64, error) {
	return f(ctx, rule, target, runID)
}

// EvaluateRules 按给定顺序评估规则，结果与规则一一对应
// 规则错误原文只写日志，结果中只保留归类后的原因
func EvaluateRules(ctx context.Context, rules []pipeline.Rule, target, runID string, counter Counter, logger *slog.Logger, now func() time.Time) []pipeline.RuleResult {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]pipeline.RuleResult, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		res := pipeline.RuleResult{
			RuleID:      rule.ID,
			RunID:       runID,
			TargetTable: target,
			Column:      rule.Column,
			Kind:        rule.Kind,
			Severity:    rule.Severity,
		}
		count, err := counter.Count(ctx, rule, target, runID)
		res.EvaluatedAt = now()
		switch {
		case err != nil:
			res.Status = pipeline.RuleStatusError
			res.Detail = ruleDetail(err)
			logger.Warn("quality: rule evaluation error",
				"rule_id", rule.ID, "run_id", runID, "table", target, "kind", rule.Kind, "error", err)
		case count == 0:
			res.Status = pipeline.RuleStatusPass
		case rule.Severity == pipeline.SeverityFail:
			res.Status = pipeline.RuleStatusFail
			res.FailingCount = count
		default:
			res.Status = pipeline.RuleStatusWarn
			res.FailingCount = count
		}
		results = append(results, res)
	}
	return results
}

func ruleDetail(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "evaluation timed out"
	case errors.Is(err, errUnsafePredicate):
		return "predicate rejected"
	case errors.Is(err, errMissingColumn), errors.Is(err, errMissingParameter):
		return "rule is missing a column or parameter"
	case errors.Is(err, pipeline.ErrInvalidIdentifier):
		return "invalid table or column name"
	case errors.Is(err, errInvalidPattern):
		return "invalid pattern"
	case errors.Is(err, errInvalidSet):
		return "invalid set parameter"
	case errors.Is(err, errUnknownKind):
		return "unknown check kind"
	default:
		return "evaluation failed"
	}
}

// Report 一次质量门评估的结果
type Report struct {
	Results []pipeline.RuleResult
	Verdict pipeline.Verdict
	Failed  int
	Warned  int
	Errored int
}

// Gate 转换为质量门失败错误，未失败时返回 nil
func (r Report) Gate(target, runID string) error {
	if r.Verdict != pipeline.VerdictFail {
		return nil
	}
	return &pipeline.QualityGateFailure{Target: target, RunID: runID, Failed: r.Failed, Warned: r.Warned, Errored: r.Errored}
}

// NewReport 汇总结果
func NewReport(results []pipeline.RuleResult) Report {
	rep := Report{Results: results, Verdict: pipeline.Aggregate(results)}
	for _, r := range results {
		switch r.Status {
		case pipeline.RuleStatusFail:
			rep.Failed++
		case pipeline.RuleStatusWarn:
			rep.Warned++
		case pipeline.RuleStatusError:
			rep.Errored++
		}
	}
	return rep
}

// Engine 质量门引擎
type Engine struct {
	store   *Store
	counter Counter
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine 创建质量门引擎
func NewEngine(store *Store, counter Counter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, counter: counter, logger: logger, now: time.Now}
}

// Evaluate 评估目标表上所有启用规则，结果追加到审计表
func (e *Engine) Evaluate(ctx context.Context, target, runID string) (Report, error) {
	rules, err := e.store.ActiveRules(ctx, target)
	if err != nil {
		return Report{}, err
	}

	results := EvaluateRules(ctx, rules, target, runID, e.counter, e.logger, e.now)

	if err := e.store.RecordResults(ctx, results); err != nil {
		e.logger.Error("quality: failed to record rule results", "run_id", runID, "table", target, "error", err)
	}

	rep := NewReport(results)
	e.logger.Info("quality: evaluated",
		"run_id", runID, "table", target, "rules", len(results),
		"verdict", rep.Verdict, "failed", rep.Failed, "warned", rep.Warned, "errored", rep.Errored)
	return rep, nil
}
