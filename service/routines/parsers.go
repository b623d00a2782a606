/*
 * @module service/routines/parsers
 * @description 解析例程允许列表：标识 -> 实现，编译期确定
 * @architecture 插件层 - 外部协作者边界
 * @rules 配置中的 parser_id 只能选择这里登记的实现，配置本身不包含可执行内容
 * @dependencies golang.org/x/text
 */

package routines

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"elt-service/service/pipeline"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Parser 解析例程
type Parser interface {
	Parse(ctx context.Context, r io.Reader) (pipeline.Batch, error)
}

// ParserFunc 函数适配
type ParserFunc func(ctx context.Context, r io.Reader) (pipeline.Batch, error)

// Parse 实现 Parser
func (f ParserFunc) Parse(ctx context.Context, r io.Reader) (pipeline.Batch, error) {
	return f(ctx, r)
}

// builtinParsers 内置解析例程
func builtinParsers() map[string]Parser {
	return map[string]Parser{
		"csv":     Delimited(','),
		"psv":     Delimited('|'),
		"tsv":     Delimited('\t'),
		"csv_gbk": GBK(Delimited(',')),
		"json":    ParserFunc(parseJSONRecords),
	}
}

// Delimited 带表头的分隔符文本，空字段读为 NULL
func Delimited(sep rune) Parser {
	return ParserFunc(func(ctx context.Context, r io.Reader) (pipeline.Batch, error) {
		cr := csv.NewReader(r)
		cr.Comma = sep
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		header, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return pipeline.Batch{}, errors.New("empty input")
			}
			return pipeline.Batch{}, err
		}
		cols := make([]string, len(header))
		for i, h := range header {
			h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			cols[i] = h
		}

		batch := pipeline.Batch{Columns: cols}
		for line := 2; ; line++ {
			if line%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return pipeline.Batch{}, err
				}
			}
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return pipeline.Batch{}, err
			}
			if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && len(cols) > 1 {
				continue
			}
			if len(rec) != len(cols) {
				return pipeline.Batch{}, fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(cols))
			}
			row := make([]interface{}, len(rec))
			for i, v := range rec {
				if v = strings.TrimSpace(v); v != "" {
					row[i] = v
				}
			}
			batch.Rows = append(batch.Rows, row)
		}
		return batch, batch.Validate()
	})
}

// GBK 先将 GBK 编码输入转为 UTF-8
func GBK(inner Parser) Parser {
	return ParserFunc(func(ctx context.Context, r io.Reader) (pipeline.Batch, error) {
		return inner.Parse(ctx, transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()))
	})
}

// parseJSONRecords JSON 对象数组，列为所有键的并集
func parseJSONRecords(ctx context.Context, r io.Reader) (pipeline.Batch, error) {
	var records []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return pipeline.Batch{}, err
	}
	keys := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			keys[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(keys))
	for k := range keys {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	batch := pipeline.Batch{Columns: cols, Rows: make([][]interface{}, 0, len(records))}
	for _, rec := range records {
		row := make([]interface{}, len(cols))
		for i, c := range cols {
			switch v := rec[c].(type) {
			case map[string]interface{}, []interface{}:
				b, _ := json.Marshal(v)
				row[i] = string(b)
			default:
				row[i] = v
			}
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, ctx.Err()
}
