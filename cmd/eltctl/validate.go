package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"elt-service/service/config"
	"elt-service/service/models"
	"elt-service/service/registry"
	"elt-service/service/routines"
	"elt-service/service/storage"
	"elt-service/service/warehouse"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "校验启用的管道配置",
	Long:  "按服务加载时相同的规则校验全部启用的配置行，列出通过与被拒绝的行。存在被拒绝的行时退出码非零。",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	settings := config.Load()
	wh, err := warehouse.New(db, settings.LineageColumn)
	if err != nil {
		return err
	}
	catalog := routines.NewCatalog(wh, storage.NewResolver(nil), settings.AllowedProcedures)
	reg := registry.NewRegistry(db, catalog, slog.New(slog.DiscardHandler))

	var rows []models.PipelineConfig
	if err := db.WithContext(cmd.Context()).Where("is_active = ?", true).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return err
	}
	res := reg.Validate(rows)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Import", "Group", "Pattern", "Destination", "Mode", "Successor", "Status"})
	for _, d := range res.Definitions {
		table.Append([]string{d.ImportName, d.GroupName, d.FilePattern, d.DestinationTable, string(d.LoadMode), d.Successor, "OK"})
	}
	for _, e := range res.Errors {
		table.Append([]string{e.ImportName, "", "", "", "", "", "REJECTED: " + e.Field + " " + e.Reason})
	}
	table.Render()

	fmt.Printf("\n可用解析例程: %s\n可用转换例程: %s\n",
		strings.Join(catalog.ParserIDs(), ", "), strings.Join(catalog.TransformIDs(), ", "))
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d 行配置未通过校验", len(res.Errors))
	}
	return nil
}
