/*
 * @module service/pipeline/definition
 * @description 管道定义及其值语义，运行期间持有只读快照
 * @architecture 领域层 - 共享类型
 * @rules 定义按值传递，Clone 复制所有切片，组件之间不共享可变引用
 * @refs service/registry, service/coordinator, service/lifecycle
 */

package pipeline

import (
	"strings"
)

// LoadMode 目标表加载模式
type LoadMode string

const (
	LoadModeReplace LoadMode = "replace"
	LoadModeAppend  LoadMode = "append"
)

// Valid 是否为已知加载模式
func (m LoadMode) Valid() bool {
	return m == LoadModeReplace || m == LoadModeAppend
}

// ColumnMapping 源列到目标列的重命名
type ColumnMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Definition 管道定义
type Definition struct {
	ID               string          `json:"id"`
	GroupName        string          `json:"group_name"`
	ImportName       string          `json:"import_name"`
	FilePattern      string          `json:"file_pattern"`
	WatchedLocation  string          `json:"watched_location,omitempty"`
	ParserID         string          `json:"parser_id"`
	StagingTable     string          `json:"staging_table"`
	DestinationTable string          `json:"destination_table"`
	TransformID      string          `json:"transform_id"`
	LoadMode         LoadMode        `json:"load_mode"`
	DedupKey         []string        `json:"dedup_key,omitempty"`
	Successor        string          `json:"successor,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty"`
	ColumnMapping    []ColumnMapping `json:"column_mapping,omitempty"`
	ScheduleCron     string          `json:"schedule_cron,omitempty"`
	Active           bool            `json:"active"`
	Version          int             `json:"version"`
}

// Clone 深拷贝
func (d Definition) Clone() Definition {
	c := d
	c.DedupKey = append([]string(nil), d.DedupKey...)
	c.DependsOn = append([]string(nil), d.DependsOn...)
	c.ColumnMapping = append([]ColumnMapping(nil), d.ColumnMapping...)
	return c
}

// HasDedupKey 是否配置了去重键
func (d Definition) HasDedupKey() bool {
	return len(d.DedupKey) > 0
}

// HasSuccessor 是否配置了生命周期后继导入
func (d Definition) HasSuccessor() bool {
	return d.Successor != ""
}

// ParseList 解析逗号分隔的列表，忽略空项
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseColumnMapping 解析 "Source > Target, Source2 > Target2" 形式的列映射
func ParseColumnMapping(raw string) ([]ColumnMapping, error) {
	var out []ColumnMapping
	for _, item := range ParseList(raw) {
		src, dst, ok := strings.Cut(item, ">")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, &mappingError{item: item}
		}
		out = append(out, ColumnMapping{Source: src, Target: dst})
	}
	return out, nil
}

type mappingError struct {
	item string
}

func (e *mappingError) Error() string {
	return "invalid column mapping entry " + `"` + e.item + `"`
}
