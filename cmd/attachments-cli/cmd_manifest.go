package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the server manifest of a row",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := flags.scope()
		if err != nil {
			return err
		}
		manifest, err := flags.client().GetManifest(cmd.Context(), scope)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	},
}
