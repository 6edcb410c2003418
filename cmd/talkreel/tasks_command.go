package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"talkreel/internal/httpapi"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Tasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Tasks) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Kind", "Status", "Progress", "Elapsed", "Started", "Message"},
				taskRows(resp.Tasks),
				3, 4,
			))
			if summary := countsSummary(resp.Counts); summary != "" {
				fmt.Fprintf(out, "Live: %s\n", summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum tasks to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func taskRows(views []httpapi.TaskView) [][]string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		status := string(v.Status)
		if v.Archived {
			status += "*"
		} else if len(degradedStages(v)) > 0 {
			status += " (degraded)"
		}
		rows = append(rows, []string{
			v.ID,
			string(v.Kind),
			status,
			fmt.Sprintf("%d%%", v.Progress),
			fmt.Sprintf("%.1fs", v.ElapsedTime),
			v.StartTime.Local().Format(time.DateTime),
			v.Message,
		})
	}
	return rows
}

func countsSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
