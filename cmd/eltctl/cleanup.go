package main

import (
	"fmt"
	"log/slog"

	"elt-service/service/cleanup"
	"elt-service/service/config"
	"elt-service/service/registry"
	"elt-service/service/routines"
	"elt-service/service/storage"
	"elt-service/service/warehouse"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "立即执行一次保留期清理",
	Long:  "删除超过保留天数的暂存行、运行日志与规则结果，保留天数取自 system_configs。",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	settings := config.Load()
	wh, err := warehouse.New(db, settings.LineageColumn)
	if err != nil {
		return err
	}
	logger := slog.Default()
	catalog := routines.NewCatalog(wh, storage.NewResolver(nil), settings.AllowedProcedures)
	loaded, err := registry.NewRegistry(db, catalog, logger).LoadActive(cmd.Context())
	if err != nil {
		return err
	}
	tables := func() map[string]string {
		out := make(map[string]string, len(loaded.Definitions))
		for _, d := range loaded.Definitions {
			out[d.ImportName] = d.StagingTable
		}
		return out
	}

	svc := cleanup.NewRetentionService(db, config.NewConfigService(db), wh, tables, logger)
	res, err := svc.Cleanup(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("暂存行: %d\n运行日志: %d\n规则结果: %d\n", res.StagingRows, res.RunLogs, res.RuleResults)
	return nil
}
