package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"elt-service/service/pipeline"
	"elt-service/service/warehouse"

	"github.com/lib/pq"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

var (
	errMissingColumn    = errors.New("rule requires a column")
	errMissingParameter = errors.New("rule requires a parameter")
	errUnsafePredicate  = errors.New("predicate contains forbidden tokens")
	errInvalidPattern   = errors.New("invalid pattern")
	errInvalidSet       = errors.New("invalid set parameter")
	errUnknownKind      = errors.New("unknown check kind")
)

// 谓词只允许布尔表达式，禁止语句分隔、注释与子查询/写操作关键字
var forbiddenPredicateWords = regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|alter|create|truncate|grant|revoke|exec|execute|call|copy|attach|detach|pragma|merge|vacuum|into|union)\b`)

var (
	predicateCall   = regexp.MustCompile(`("[^"]*"|[A-Za-z_][A-Za-z0-9_$.]*)\s*\(`)
	predicateString = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// allowedPredicateCalls 谓词中可以出现在括号前的名称：布尔运算符与无副作用的标量函数
var allowedPredicateCalls = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "in": {}, "is": {}, "like": {}, "ilike": {}, "between": {},
	"cast": {}, "coalesce": {}, "nullif": {}, "greatest": {}, "least": {},
	"lower": {}, "upper": {}, "length": {}, "char_length": {}, "trim": {}, "ltrim": {}, "rtrim": {},
	"substr": {}, "substring": {}, "position": {}, "abs": {}, "round": {}, "floor": {}, "ceil": {},
	"date": {}, "extract": {}, "date_part": {}, "date_trunc": {},
}

// CUSTOM 谓词计数的语句超时，仅 postgres 生效
const customStatementTimeout = 30 * time.Second

// ValidatePredicate 校验 CUSTOM 规则谓词
func ValidatePredicate(predicate string) error {
	p := strings.TrimSpace(predicate)
	if p == "" {
		return errMissingParameter
	}
	if strings.ContainsAny(p, ";\\") || strings.Contains(p, "--") || strings.Contains(p, "/*") || strings.Contains(p, "*/") {
		return errUnsafePredicate
	}
	if forbiddenPredicateWords.MatchString(p) {
		return errUnsafePredicate
	}
	// 字符串字面量中的括号不算函数调用
	for _, m := range predicateCall.FindAllStringSubmatch(predicateString.ReplaceAllString(p, "''"), -1) {
		name := strings.ToLower(strings.Trim(m[1], `"`))
		if _, ok := allowedPredicateCalls[name]; !ok {
			return fmt.Errorf("%w: function %s", errUnsafePredicate, name)
		}
	}
	return nil
}

// ParseSet 解析 IN_SET 参数，支持 JSON 数组或逗号分隔
func ParseSet(param string) ([]string, error) {
	p := strings.TrimSpace(param)
	if p == "" {
		return nil, errMissingParameter
	}
	if strings.HasPrefix(p, "[") {
		var raw []interface{}
		if err := json.Unmarshal([]byte(p), &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidSet, err)
		}
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			out = append(out, cast.ToString(v))
		}
		return out, nil
	}
	return pipeline.ParseList(p), nil
}

// SQLCounter 将检查下推为 SQL 计数
type SQLCounter struct {
	db      *gorm.DB
	lineage string

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewSQLCounter 创建 SQL 计数器
func NewSQLCounter(wh *warehouse.Warehouse) *SQLCounter {
	return &SQLCounter{
		db:       wh.DB(),
		lineage:  wh.LineageColumn(),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Count 实现 Counter
func (c *SQLCounter) Count(ctx context.Context, rule pipeline.Rule, target, runID string) (int64, error) {
	table, err := warehouse.QuoteTable(target)
	if err != nil {
		return 0, err
	}
	scope := fmt.Sprintf("%s = ?", pq.QuoteIdentifier(c.lineage))

	var col string
	if rule.Kind != pipeline.CheckCustom {
		if rule.Column == "" {
			return 0, errMissingColumn
		}
		if col, err = warehouse.QuoteColumn(rule.Column); err != nil {
			return 0, err
		}
	}

	db := c.db.WithContext(ctx)
	var n int64
	switch rule.Kind {
	case pipeline.CheckNotNull:
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s AND %s IS NULL", table, scope, col)
		err = db.Raw(q, runID).Scan(&n).Error
	case pipeline.CheckUnique:
		q := fmt.Sprintf(`SELECT CAST(COALESCE(SUM(cnt), 0) AS BIGINT) FROM (
			SELECT COUNT(*) AS cnt FROM %s WHERE %s AND %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1
		) dup`, table, scope, col, col)
		err = db.Raw(q, runID).Scan(&n).Error
	case pipeline.CheckInSet:
		members, perr := ParseSet(rule.Parameter)
		if perr != nil {
			return 0, perr
		}
		if len(members) == 0 {
			q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s AND %s IS NOT NULL", table, scope, col)
			err = db.Raw(q, runID).Scan(&n).Error
			break
		}
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s AND %s IS NOT NULL AND CAST(%s AS TEXT) NOT IN ?", table, scope, col, col)
		err = db.Raw(q, runID, members).Scan(&n).Error
	case pipeline.CheckPattern:
		n, err = c.countPattern(ctx, table, scope, col, rule.Parameter, runID)
	case pipeline.CheckCustom:
		if perr := ValidatePredicate(rule.Parameter); perr != nil {
			return 0, perr
		}
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s AND (%s)", table, scope, rule.Parameter)
		n, err = c.countCustom(ctx, q, runID)
	default:
		return 0, fmt.Errorf("%w %q", errUnknownKind, rule.Kind)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// countCustom postgres 上在只读事务中执行并限制语句时长
func (c *SQLCounter) countCustom(ctx context.Context, q, runID string) (int64, error) {
	var n int64
	if c.db.Dialector.Name() != "postgres" {
		err := c.db.WithContext(ctx).Raw(q, runID).Scan(&n).Error
		return n, err
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET TRANSACTION READ ONLY").Error; err != nil {
			return err
		}
		if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", customStatementTimeout.Milliseconds())).Error; err != nil {
			return err
		}
		return tx.Raw(q, runID).Scan(&n).Error
	})
	return n, err
}

// countPattern 正则在进程内求值，避免依赖数据库方言的正则语法
func (c *SQLCounter) countPattern(ctx context.Context, table, scope, col, pattern, runID string) (int64, error) {
	re, err := c.compile(pattern)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s AND %s IS NOT NULL", col, table, scope, col)
	rows, err := c.db.WithContext(ctx).Raw(q, runID).Rows()
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return 0, err
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if !re.MatchString(cast.ToString(v)) {
			n++
		}
	}
	return n, rows.Err()
}

func (c *SQLCounter) compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errMissingParameter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidPattern, err)
	}
	c.patterns[pattern] = re
	return re, nil
}
