package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"talkreel/internal/httpapi"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var showLog bool

	cmd := &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Show progress of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Progress(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Task)
			}
			printTaskSummary(cmd, resp.Task)
			if showLog && len(resp.Task.Log) > 0 {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out)
				for _, entry := range resp.Task.Log {
					fmt.Fprintf(out, "%s  %s\n", entry.Time.Local().Format(time.TimeOnly), entry.Message)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&showLog, "log", false, "Include the task's progress log")
	return cmd
}

func printTaskSummary(cmd *cobra.Command, view httpapi.TaskView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	state := string(view.Status)
	if view.Archived {
		state += " (archived)"
	}
	fmt.Fprintln(out, renderStatusLine("Task "+view.ID, taskStatusKind(view), state, colorize))

	rows := [][]string{
		{"Kind", string(view.Kind)},
		{"Progress", fmt.Sprintf("%d%% (step %d/%d)", view.Progress, view.CurrentStep, view.TotalSteps)},
		{"Message", view.Message},
		{"Elapsed", fmt.Sprintf("%.1fs", view.ElapsedTime)},
		{"Started", view.StartTime.Local().Format(time.DateTime)},
	}
	if view.EndTime != nil {
		rows = append(rows, []string{"Finished", view.EndTime.Local().Format(time.DateTime)})
	}
	if stages := degradedStages(view); len(stages) > 0 {
		rows = append(rows, []string{"Degraded", strings.Join(stages, ", ")})
	}
	rows = append(rows, detailRows(view.Details)...)
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows))
}

// detailRows flattens task details in key order. Degradation flags are
// already summarized.
func detailRows(details map[string]any) [][]string {
	keys := make([]string, 0, len(details))
	for key := range details {
		if key == "degraded_stages" || strings.HasSuffix(key, "_degraded") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, formatDetail(details[key])})
	}
	return rows
}

func formatDetail(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		return yesNo(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
