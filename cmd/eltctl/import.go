package main

import (
	"fmt"
	"os"

	"elt-service/service/registry"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "从 YAML 文件导入管道配置与质量规则",
	Long:  "按 import_name 更新或新增管道配置，按 (目标表, 列, 类型, 参数) 更新或新增质量规则。整个文件在一个事务中导入。",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := registry.ParseImport(f)
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	sum, err := registry.Import(cmd.Context(), db, doc)
	if err != nil {
		return fmt.Errorf("导入失败: %w", err)
	}
	fmt.Printf("管道: 新增 %d, 更新 %d\n质量规则: 新增 %d, 更新 %d\n",
		sum.PipelinesCreated, sum.PipelinesUpdated, sum.RulesCreated, sum.RulesUpdated)
	return nil
}
