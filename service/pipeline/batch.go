package pipeline

import (
	"fmt"
)

// Batch 解析例程返回的表格数据
type Batch struct {
	Columns []string
	Rows    [][]interface{}
}

// Len 行数
func (b Batch) Len() int {
	return len(b.Rows)
}

// Index 列下标，不存在返回 -1
func (b Batch) Index(column string) int {
	for i, c := range b.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Validate 检查每行列数与表头一致且列名不重复
func (b Batch) Validate() error {
	seen := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		if c == "" {
			return fmt.Errorf("empty column name")
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return fmt.Errorf("row %d has %d values, expected %d", i+1, len(row), len(b.Columns))
		}
	}
	return nil
}

// Rename 按列映射重命名列，未映射的列保持原名
func (b Batch) Rename(mapping []ColumnMapping) (Batch, error) {
	if len(mapping) == 0 {
		return b, nil
	}
	cols := append([]string(nil), b.Columns...)
	for _, m := range mapping {
		idx := b.Index(m.Source)
		if idx < 0 {
			return Batch{}, fmt.Errorf("mapped column %q not found in input", m.Source)
		}
		cols[idx] = m.Target
	}
	out := Batch{Columns: cols, Rows: b.Rows}
	if err := out.Validate(); err != nil {
		return Batch{}, err
	}
	return out, nil
}
