/*
 * @module service/warehouse/warehouse
 * @description 暂存表与目标表的 SQL 访问：带血缘列的追加写入、按运行计数与清理
 * @architecture 数据访问层
 * @rules 所有表名和列名都先校验再用 pq.QuoteIdentifier 引用，值一律走占位符
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/coordinator, service/quality, service/lifecycle, service/routines
 */

package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"elt-service/service/pipeline"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const insertChunkSize = 500

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier 表名允许 schema.table 形式
func ValidIdentifier(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return false
		}
	}
	return true
}

// QuoteTable 引用表名
func QuoteTable(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", pipeline.ErrInvalidIdentifier, name)
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

// QuoteColumn 引用列名
func QuoteColumn(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", pipeline.ErrInvalidIdentifier, name)
	}
	return pq.QuoteIdentifier(name), nil
}

// QuoteColumns 批量引用列名
func QuoteColumns(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := QuoteColumn(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Warehouse 仓库访问
type Warehouse struct {
	db      *gorm.DB
	lineage string
}

// New 创建仓库访问，lineageColumn 为血缘列名
func New(db *gorm.DB, lineageColumn string) (*Warehouse, error) {
	if _, err := QuoteColumn(lineageColumn); err != nil {
		return nil, fmt.Errorf("lineage column: %w", err)
	}
	return &Warehouse{db: db, lineage: lineageColumn}, nil
}

// DB 底层连接
func (w *Warehouse) DB() *gorm.DB {
	return w.db
}

// LineageColumn 血缘列名
func (w *Warehouse) LineageColumn() string {
	return w.lineage
}

// AppendBatch 为每行打上运行标识后追加到暂存表，返回写入行数
func (w *Warehouse) AppendBatch(ctx context.Context, table, runID string, batch pipeline.Batch) (int64, error) {
	if err := batch.Validate(); err != nil {
		return 0, err
	}
	if batch.Index(w.lineage) >= 0 {
		return 0, fmt.Errorf("input already has a column named %q", w.lineage)
	}
	qt, err := QuoteTable(table)
	if err != nil {
		return 0, err
	}
	cols, err := QuoteColumns(append(append([]string(nil), batch.Columns...), w.lineage))
	if err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", qt, strings.Join(cols, ", "))

	var written int64
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < batch.Len(); start += insertChunkSize {
			end := min(start+insertChunkSize, batch.Len())
			placeholders := make([]string, 0, end-start)
			args := make([]interface{}, 0, (end-start)*len(cols))
			for _, row := range batch.Rows[start:end] {
				placeholders = append(placeholders, rowPlaceholder)
				args = append(args, row...)
				args = append(args, runID)
			}
			res := tx.Exec(prefix+strings.Join(placeholders, ", "), args...)
			if res.Error != nil {
				return res.Error
			}
			written += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", table, err)
	}
	return written, nil
}

// CountByRun 统计表中属于某次运行的行数
func (w *Warehouse) CountByRun(ctx context.Context, table, runID string) (int64, error) {
	qt, err := QuoteTable(table)
	if err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", qt, pq.QuoteIdentifier(w.lineage))
	if err := w.db.WithContext(ctx).Raw(q, runID).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// CountRows 统计表总行数
func (w *Warehouse) CountRows(ctx context.Context, table string) (int64, error) {
	qt, err := QuoteTable(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := w.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + qt).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteRuns 删除暂存表中指定运行的行
func (w *Warehouse) DeleteRuns(ctx context.Context, table string, runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	qt, err := QuoteTable(table)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s IN ?", qt, pq.QuoteIdentifier(w.lineage))
	res := w.db.WithContext(ctx).Exec(q, runIDs)
	return res.RowsAffected, res.Error
}

// Columns 读取表的列名
func (w *Warehouse) Columns(ctx context.Context, table string) ([]string, error) {
	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrInvalidIdentifier, table)
	}
	types, err := w.db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name()
	}
	return out, nil
}

// SharedColumns 两表共有的列，排除血缘列，按目标表顺序
func (w *Warehouse) SharedColumns(ctx context.Context, staging, destination string) ([]string, error) {
	src, err := w.Columns(ctx, staging)
	if err != nil {
		return nil, err
	}
	dst, err := w.Columns(ctx, destination)
	if err != nil {
		return nil, err
	}
	inSrc := make(map[string]bool, len(src))
	for _, c := range src {
		inSrc[strings.ToLower(c)] = true
	}
	var out []string
	for _, c := range dst {
		if strings.EqualFold(c, w.lineage) {
			continue
		}
		if inSrc[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no shared columns between %s and %s", staging, destination)
	}
	return out, nil
}
