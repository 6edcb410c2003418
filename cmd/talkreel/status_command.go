package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"talkreel/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			resp, err := client.Status(cmd.Context())
			if errors.Is(err, ipc.ErrDaemonUnavailable) {
				if jsonOutput {
					return writeJSON(cmd, map[string]any{"running": false})
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "Not running (start it with talkreel serve)", colorize))
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Daemon)
			}

			st := resp.Daemon
			lines := renderSectionHeader("System", colorize)
			lines = append(lines,
				renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", st.PID), colorize),
				renderStatusLine("Render mode", statusInfo, st.RenderMode, colorize),
			)
			if st.Session != "" {
				lines = append(lines, renderStatusLine("Worker session", statusOK, st.Session, colorize))
			}
			if st.ArchivePath != "" {
				lines = append(lines, renderStatusLine("Archive", statusInfo, st.ArchivePath, colorize))
			}
			lines = append(lines, renderStatusLine("Tasks", statusInfo, orNone(countsSummary(st.Tasks)), colorize))
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			lines = append(lines, dependencyLines(st.Dependencies, colorize)...)
			if len(st.Checks) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Checks", colorize)...)
				lines = append(lines, checkLines(st.Checks, colorize)...)
			}
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func orNone(value string) string {
	if value == "" {
		return "none"
	}
	return value
}
