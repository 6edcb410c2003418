package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"talkreel/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool
	var filter logs.Filter

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's current run log",
		Long: "Show the daemon's current run log (<log_dir>/talkreel.log).\n\n" +
			"Use --task to see one job across every stage, and --follow to keep streaming.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "talkreel.log")
			out := cmd.OutOrStdout()

			// With a filter the tail window is widened so matches are not
			// crowded out by other tasks.
			window := lines
			if filter.Active() && window > 0 {
				window *= 20
			}
			recent, offset, err := logs.Last(path, window)
			if err != nil {
				return err
			}
			var matched []string
			for _, line := range recent {
				if text, ok := renderLogLine(line, filter, raw); ok {
					matched = append(matched, text)
				}
			}
			if len(matched) > lines {
				matched = matched[len(matched)-lines:]
			}
			for _, text := range matched {
				fmt.Fprintln(out, text)
			}
			if !follow {
				if len(matched) == 0 {
					fmt.Fprintf(out, "No log entries in %s\n", path)
				}
				return nil
			}

			return logs.Follow(cmd.Context(), path, offset, 250*time.Millisecond, func(line string) {
				printLogLine(out, line, filter, raw)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new entries")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the JSON records unchanged")
	cmd.Flags().StringVar(&filter.TaskID, "task", "", "Only entries for this task id")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only entries from this component")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

// renderLogLine applies the filter. Non-JSON lines pass only when no
// filter is set.
func renderLogLine(line string, filter logs.Filter, raw bool) (string, bool) {
	entry, ok := logs.ParseEntry(line)
	if !ok {
		return line, !filter.Active()
	}
	if !filter.Match(entry) {
		return "", false
	}
	if raw {
		return line, true
	}
	return entry.Format(), true
}

func printLogLine(out io.Writer, line string, filter logs.Filter, raw bool) {
	if text, ok := renderLogLine(line, filter, raw); ok {
		fmt.Fprintln(out, text)
	}
}
