/*
 * @module service/pipeline/run
 * @description 触发事件、运行与运行结果
 * @stateFlow RUNNING -> SUCCESS | FAILURE | SKIPPED
 */

package pipeline

import (
	"time"
)

// TriggerKind 触发来源
type TriggerKind string

const (
	TriggerSensor   TriggerKind = "sensor"
	TriggerManual   TriggerKind = "manual"
	TriggerGroup    TriggerKind = "group"
	TriggerSchedule TriggerKind = "schedule"
)

// TriggerEvent 一次触发，对应一个输入
type TriggerEvent struct {
	Definition Definition  `json:"definition"`
	InputRef   string      `json:"input_ref"`
	Kind       TriggerKind `json:"kind"`
	// GroupMembers 整组物化时的组成员快照，其余触发为空
	GroupMembers []Definition `json:"group_members,omitempty"`
	InputModTime time.Time    `json:"input_mod_time,omitempty"`
	TriggeredAt  time.Time    `json:"triggered_at"`
	// BatchID 同一次传感器轮询发现的输入共享；replace 管道在一个批次内只清空一次
	BatchID string `json:"batch_id,omitempty"`
}

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailure RunStatus = "FAILURE"
	RunStatusSkipped RunStatus = "SKIPPED"
)

// Stage 运行到达的阶段
type Stage string

const (
	StageStart     Stage = "START"
	StageExtract   Stage = "EXTRACT"
	StageStage     Stage = "STAGE"
	StageQuality   Stage = "QUALITY"
	StageDedup     Stage = "DEDUP"
	StageTransform Stage = "TRANSFORM"
	StageTimeout   Stage = "TIMEOUT"
	StageComplete  Stage = "COMPLETE"
)

// Run 单次运行，由协调器独占
type Run struct {
	ID           string
	Definition   Definition
	InputRef     string
	Kind         TriggerKind
	StartedAt    time.Time
	EndedAt      time.Time
	Status       RunStatus
	Stage        Stage
	RowsRead     int64
	RowsStaged   int64
	RowsRemoved  int64
	Warnings     int
	Verdict      Verdict
	Scope        []string
	Switched     bool
	Err          error
	RuleFailures int
}

// NewRun 打开一个 RUNNING 状态的运行
func NewRun(id string, event TriggerEvent, now time.Time) *Run {
	return &Run{
		ID:         id,
		Definition: event.Definition.Clone(),
		InputRef:   event.InputRef,
		Kind:       event.Kind,
		StartedAt:  now,
		Status:     RunStatusRunning,
		Stage:      StageStart,
	}
}

// Fail 在指定阶段将运行标记为失败
func (r *Run) Fail(stage Stage, err error, now time.Time) {
	r.Status = RunStatusFailure
	r.Stage = stage
	r.Err = err
	r.EndedAt = now
}

// Skip 定义在排队期间被停用，运行不写目标表
func (r *Run) Skip(stage Stage, now time.Time) {
	r.Status = RunStatusSkipped
	r.Stage = stage
	r.EndedAt = now
}

// Succeed 标记运行成功
func (r *Run) Succeed(now time.Time) {
	r.Status = RunStatusSuccess
	r.Stage = StageComplete
	r.EndedAt = now
}

// Outcome 生成对外结果，Err 只保留在内存中供日志使用
func (r *Run) Outcome() RunOutcome {
	out := RunOutcome{
		RunID:           r.ID,
		ImportName:      r.Definition.ImportName,
		GroupName:       r.Definition.GroupName,
		InputRef:        r.InputRef,
		WatchedLocation: r.Definition.WatchedLocation,
		Status:          r.Status,
		Stage:           r.Stage,
		RowsRead:        r.RowsRead,
		RowsStaged:      r.RowsStaged,
		RowsRemoved:     r.RowsRemoved,
		Warnings:        r.Warnings,
		Verdict:         r.Verdict,
		Scope:           append([]string(nil), r.Scope...),
		Switched:        r.Switched,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		Err:             r.Err,
	}
	switch {
	case r.Status == RunStatusFailure:
		out.Message = PublicMessage(r.Stage)
	case r.Status == RunStatusSkipped:
		out.Message = "skipped because pipeline is inactive"
	case r.Warnings > 0:
		out.Message = "completed with quality warnings"
	default:
		out.Message = "completed"
	}
	return out
}

// RunOutcome 运行结果，按值在组件间传递
// WatchedLocation 取自定义，手动触发的输入可能不在其中
type RunOutcome struct {
	RunID           string    `json:"run_id"`
	ImportName      string    `json:"import_name"`
	GroupName       string    `json:"group_name"`
	InputRef        string    `json:"input_ref"`
	WatchedLocation string    `json:"watched_location,omitempty"`
	Status          RunStatus `json:"status"`
	Stage           Stage     `json:"stage"`
	RowsRead        int64     `json:"rows_read"`
	RowsStaged      int64     `json:"rows_staged"`
	RowsRemoved     int64     `json:"rows_removed"`
	Warnings        int       `json:"warnings"`
	Verdict         Verdict   `json:"verdict,omitempty"`
	Scope           []string  `json:"truncate_scope,omitempty"`
	Switched        bool      `json:"switched"`
	Message         string    `json:"message"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Err             error     `json:"-"`
}

// Duration 运行耗时
func (o RunOutcome) Duration() time.Duration {
	if o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}
