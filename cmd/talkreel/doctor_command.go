package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"talkreel/internal/daemon"
	"talkreel/internal/logging"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, services, and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer d.Close()

			st := d.Status(cmd.Context())
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			lines := renderSectionHeader("Dependencies", colorize)
			lines = append(lines, dependencyLines(st.Dependencies, colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Checks", colorize)...)
			lines = append(lines, checkLines(st.Checks, colorize)...)
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}

			failed := 0
			for _, c := range st.Checks {
				if !c.Passed {
					failed++
				}
			}
			for _, dep := range st.Dependencies {
				if dep.Blocking() {
					failed++
				}
			}
			fmt.Fprintln(out)
			if failed > 0 {
				fmt.Fprintln(out, renderStatusLine("Result", statusWarn, fmt.Sprintf("%d problem(s) found", failed), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Result", statusOK, "Ready", colorize))
			}
			return nil
		},
	}
}
