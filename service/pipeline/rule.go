package pipeline

import "time"

// CheckKind 规则检查类型
type CheckKind string

const (
	CheckNotNull CheckKind = "NOT_NULL"
	CheckUnique  CheckKind = "UNIQUE"
	CheckInSet   CheckKind = "IN_SET"
	CheckPattern CheckKind = "PATTERN"
	CheckCustom  CheckKind = "CUSTOM"
)

// Severity 规则严重级别
type Severity string

const (
	SeverityWarn Severity = "WARN"
	SeverityFail Severity = "FAIL"
)

// RuleStatus 单条规则的评估状态
type RuleStatus string

const (
	RuleStatusPass  RuleStatus = "PASS"
	RuleStatusWarn  RuleStatus = "WARN"
	RuleStatusFail  RuleStatus = "FAIL"
	RuleStatusError RuleStatus = "ERROR"
)

// Verdict 质量门汇总结论
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// Rule 质量规则，Column 为空表示表级检查
type Rule struct {
	ID          string    `json:"id"`
	TargetTable string    `json:"target_table"`
	Column      string    `json:"column,omitempty"`
	Kind        CheckKind `json:"kind"`
	Parameter   string    `json:"parameter,omitempty"`
	Severity    Severity  `json:"severity"`
	Active      bool      `json:"active"`
	Priority    int       `json:"priority"`
}

// RuleResult 单条规则对单次运行的评估结果
type RuleResult struct {
	RuleID       string     `json:"rule_id"`
	RunID        string     `json:"run_id"`
	TargetTable  string     `json:"target_table"`
	Column       string     `json:"column,omitempty"`
	Kind         CheckKind  `json:"kind"`
	Severity     Severity   `json:"severity"`
	Status       RuleStatus `json:"status"`
	FailingCount int64      `json:"failing_count"`
	// Detail 仅在 ERROR 时填写简短原因
	Detail      string    `json:"detail,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Aggregate 计算汇总结论：任一 FAIL 级规则失败为 FAIL，否则任一 WARN 级规则失败为 WARN
func Aggregate(results []RuleResult) Verdict {
	verdict := VerdictPass
	for _, r := range results {
		switch r.Status {
		case RuleStatusFail:
			return VerdictFail
		case RuleStatusWarn:
			verdict = VerdictWarn
		}
	}
	return verdict
}
