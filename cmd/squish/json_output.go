package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// withJSONFlag registers --json on cmd, bound to target.
func withJSONFlag(cmd *cobra.Command, target *bool) *cobra.Command {
	cmd.Flags().BoolVar(target, "json", false, "Emit machine-readable JSON instead of text")
	return cmd
}

// writeJSON prints v as indented JSON followed by a newline.
func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	data = append(data, '\n')
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
