package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"talkreel/internal/personas"
)

func newPersonasCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List personas from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			catalog, err := personas.Load(cfg.Paths.PersonasFile)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, catalog)
			}

			defaultID := catalog.DefaultPersona().ID
			rows := make([][]string, 0, len(catalog.Characters))
			for _, p := range catalog.Characters {
				marker := ""
				if p.ID == defaultID {
					marker = "*"
				}
				rows = append(rows, []string{marker, p.ID, p.Name, p.Gender, yesNo(p.RefAudio != ""), yesNo(p.RefVideo != ""), p.Description})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"", "ID", "Name", "Gender", "Voice", "Video", "Description"},
				rows,
			))
			if cfg.Paths.PersonasFile != "" {
				fmt.Fprintf(out, "Catalog: %s\n", cfg.Paths.PersonasFile)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
