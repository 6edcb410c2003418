package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON prints v for scripts. HTML escaping is off so result paths and
// URLs with & stay readable.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
