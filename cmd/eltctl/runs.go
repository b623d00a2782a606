package main

import (
	"fmt"
	"os"
	"strconv"

	"elt-service/service/coordinator"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "查询最近的运行日志",
	RunE:  runRuns,
}

var (
	runsImport string
	runsStatus string
	runsLimit  int
)

func init() {
	runsCmd.Flags().StringVarP(&runsImport, "import", "i", "", "按导入名过滤")
	runsCmd.Flags().StringVarP(&runsStatus, "status", "s", "", "按状态过滤（RUNNING/SUCCESS/FAILURE）")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "返回条数")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	rows, total, err := coordinator.NewRunLogStore(db).List(cmd.Context(), coordinator.RunFilter{
		ImportName: runsImport,
		Status:     runsStatus,
		Page:       1,
		Size:       runsLimit,
	})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Run ID", "Import", "Trigger", "Status", "Stage", "Staged", "Removed", "Verdict", "Started", "Duration", "Message"})
	for _, r := range rows {
		table.Append([]string{
			r.RunID,
			r.ImportName,
			r.TriggerKind,
			r.Status,
			r.Stage,
			strconv.FormatInt(r.RowsStaged, 10),
			strconv.FormatInt(r.RowsRemoved, 10),
			r.Verdict,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%dms", r.DurationMs),
			r.Message,
		})
	}
	table.Render()
	fmt.Printf("共 %d 条，显示 %d 条\n", total, len(rows))
	return nil
}
