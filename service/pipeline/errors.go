package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPipeline     = errors.New("unknown pipeline")
	ErrNoInput             = errors.New("no matching input")
	ErrUnknownParser       = errors.New("parser not in allow-list")
	ErrUnknownTransform    = errors.New("transform not in allow-list")
	ErrProcedureNotAllowed = errors.New("procedure not allowed")
	ErrInvalidIdentifier   = errors.New("invalid sql identifier")
)

// ConfigValidationError 配置行校验失败，该行被跳过
type ConfigValidationError struct {
	RowID      string
	ImportName string
	Field      string
	Reason     string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config row %s (import %q): %s: %s", e.RowID, e.ImportName, e.Field, e.Reason)
}

// SensorIOError 监视位置不可达，下个周期重试
type SensorIOError struct {
	ImportName string
	Location   string
	Err        error
}

func (e *SensorIOError) Error() string {
	return fmt.Sprintf("sensor %s: list %s: %v", e.ImportName, e.Location, e.Err)
}

func (e *SensorIOError) Unwrap() error { return e.Err }

// ExtractError 解析例程失败
type ExtractError struct {
	ParserID string
	InputRef string
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s with %s: %v", e.InputRef, e.ParserID, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// QualityGateFailure 质量门未通过
type QualityGateFailure struct {
	Target  string
	RunID   string
	Failed  int
	Warned  int
	Errored int
}

func (e *QualityGateFailure) Error() string {
	return fmt.Sprintf("quality gate on %s for run %s: %d blocking rule(s) failed, %d warning(s)", e.Target, e.RunID, e.Failed, e.Warned)
}

// Blocking 是否包含 FAIL 级失败
func (e *QualityGateFailure) Blocking() bool {
	return e.Failed > 0
}

// TransformError 转换例程失败
type TransformError struct {
	TransformID string
	Err         error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.TransformID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// LifecycleWriteError 生命周期切换写入失败，运行仍视为成功
type LifecycleWriteError struct {
	ImportName string
	Successor  string
	Err        error
}

func (e *LifecycleWriteError) Error() string {
	return fmt.Sprintf("lifecycle switch %s -> %s: %v", e.ImportName, e.Successor, e.Err)
}

func (e *LifecycleWriteError) Unwrap() error { return e.Err }

var publicMessages = map[Stage]string{
	StageStart:     "run could not be started",
	StageExtract:   "input could not be read",
	StageStage:     "staging load failed",
	StageQuality:   "data quality checks failed",
	StageDedup:     "deduplication failed",
	StageTransform: "destination load failed",
	StageTimeout:   "run timed out",
}

// PublicMessage 对外的简短失败信息，不包含内部细节
func PublicMessage(stage Stage) string {
	if msg, ok := publicMessages[stage]; ok {
		return msg
	}
	return "run failed"
}
