/*
 * @module service/routines/catalog
 * @description 解析与转换例程目录，按配置中的标识查找实现
 * @architecture 插件层 - 外部协作者边界
 * @stateFlow 标识 -> 允许列表查找 -> 调用
 * @rules 未登记的标识一律拒绝；存储过程还必须出现在运维维护的允许列表中
 * @refs service/registry, service/coordinator
 */

package routines

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"elt-service/service/pipeline"
	"elt-service/service/storage"
	"elt-service/service/warehouse"
)

// Catalog 例程目录
type Catalog struct {
	opener     storage.Opener
	parsers    map[string]Parser
	transforms map[string]Transform
	procedures map[string]bool
	wh         *warehouse.Warehouse
}

// NewCatalog 创建包含内置例程的目录
func NewCatalog(wh *warehouse.Warehouse, opener storage.Opener, allowedProcedures []string) *Catalog {
	c := &Catalog{
		opener:     opener,
		parsers:    builtinParsers(),
		transforms: map[string]Transform{"insert_from_staging": InsertFromStaging(wh)},
		procedures: make(map[string]bool),
		wh:         wh,
	}
	for _, p := range allowedProcedures {
		if warehouse.ValidIdentifier(p) {
			c.procedures[strings.ToLower(p)] = true
		}
	}
	return c
}

// RegisterParser 登记额外的解析例程，只应在启动阶段调用
func (c *Catalog) RegisterParser(id string, p Parser) {
	c.parsers[id] = p
}

// RegisterTransform 登记额外的转换例程，只应在启动阶段调用
func (c *Catalog) RegisterTransform(id string, t Transform) {
	c.transforms[id] = t
}

// HasParser 是否允许该解析标识
func (c *Catalog) HasParser(id string) bool {
	_, ok := c.parsers[id]
	return ok
}

// HasTransform 是否允许该转换标识
func (c *Catalog) HasTransform(id string) bool {
	_, err := c.transform(id)
	return err == nil
}

// ParserIDs 已登记的解析标识
func (c *Catalog) ParserIDs() []string {
	return sortedKeys(c.parsers)
}

// TransformIDs 已登记的转换标识（含允许的存储过程）
func (c *Catalog) TransformIDs() []string {
	ids := sortedKeys(c.transforms)
	for p := range c.procedures {
		ids = append(ids, ProcedurePrefix+p)
	}
	sort.Strings(ids)
	return ids
}

func (c *Catalog) transform(id string) (Transform, error) {
	if t, ok := c.transforms[id]; ok {
		return t, nil
	}
	if name, ok := strings.CutPrefix(id, ProcedurePrefix); ok {
		if c.procedures[strings.ToLower(name)] {
			return Procedure(c.wh, name), nil
		}
		return nil, fmt.Errorf("%w: %s", pipeline.ErrProcedureNotAllowed, name)
	}
	return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownTransform, id)
}

// Extract 打开输入并用指定解析例程解析
func (c *Catalog) Extract(ctx context.Context, parserID, inputRef string) (pipeline.Batch, error) {
	p, ok := c.parsers[parserID]
	if !ok {
		return pipeline.Batch{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownParser, parserID)
	}
	rc, err := c.opener.Open(ctx, inputRef)
	if err != nil {
		return pipeline.Batch{}, err
	}
	defer func(rc io.ReadCloser) { _ = rc.Close() }(rc)
	return p.Parse(ctx, rc)
}

// Transform 调用指定转换例程
func (c *Catalog) Transform(ctx context.Context, transformID string, call TransformCall) error {
	t, err := c.transform(transformID)
	if err != nil {
		return err
	}
	return t.Invoke(ctx, call)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
