package routines

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"elt-service/service/pipeline"
	"elt-service/service/warehouse"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// TransformCall 转换例程调用参数
type TransformCall struct {
	RunID      string
	Scope      []string
	Definition pipeline.Definition
}

// Transform 转换例程，自身负责清空与插入的原子性
//
// 调用方在 Invoke 返回之前一直持有目标表互斥锁。ctx 结束后实现必须尽快返回，
// 并把 ctx 传给所有数据库调用，使未提交的事务随取消回滚；
// 截止时间之后才返回的调用按超时失败处理，即使写入已经提交。
type Transform interface {
	Invoke(ctx context.Context, call TransformCall) error
}

// TransformFunc 函数适配
type TransformFunc func(ctx context.Context, call TransformCall) error

// Invoke 实现 Transform
func (f TransformFunc) Invoke(ctx context.Context, call TransformCall) error {
	return f(ctx, call)
}

// ProcedurePrefix 存储过程转换的标识前缀，如 proc:etl.load_sales
const ProcedurePrefix = "proc:"

// InsertFromStaging 将本次运行的暂存行插入目标表
// 目标表在清空范围内时先清空，两步在同一事务内
func InsertFromStaging(wh *warehouse.Warehouse) Transform {
	return TransformFunc(func(ctx context.Context, call TransformCall) error {
		def := call.Definition
		cols, err := wh.SharedColumns(ctx, def.StagingTable, def.DestinationTable)
		if err != nil {
			return err
		}
		quoted, err := warehouse.QuoteColumns(cols)
		if err != nil {
			return err
		}
		stg, err := warehouse.QuoteTable(def.StagingTable)
		if err != nil {
			return err
		}
		dst, err := warehouse.QuoteTable(def.DestinationTable)
		if err != nil {
			return err
		}
		colList := strings.Join(quoted, ", ")

		return wh.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if slices.Contains(call.Scope, def.DestinationTable) {
				if err := tx.Exec("DELETE FROM " + dst).Error; err != nil {
					return fmt.Errorf("clear %s: %w", def.DestinationTable, err)
				}
			}
			q := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = ?",
				dst, colList, colList, stg, pq.QuoteIdentifier(wh.LineageColumn()))
			if err := tx.Exec(q, call.RunID).Error; err != nil {
				return fmt.Errorf("insert into %s: %w", def.DestinationTable, err)
			}
			return nil
		})
	})
}

// Procedure 调用运维登记过的存储过程：CALL proc(run_id, 'a,b')
func Procedure(wh *warehouse.Warehouse, name string) Transform {
	return TransformFunc(func(ctx context.Context, call TransformCall) error {
		qn, err := warehouse.QuoteTable(name)
		if err != nil {
			return err
		}
		return wh.DB().WithContext(ctx).Exec(fmt.Sprintf("CALL %s(?, ?)", qn), call.RunID, strings.Join(call.Scope, ",")).Error
	})
}
