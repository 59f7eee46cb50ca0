package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"squish/internal/compress"
	"squish/internal/delivery"
)

const remoteSizeTimeout = 15 * time.Second

func newDeliverCommand(ctx *commandContext) *cobra.Command {
	var ceiling int64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "deliver <file|url>",
		Short: "Report whether a file or URL can be attached or must be linked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			var (
				decision delivery.Decision
				size     int64
				err      error
			)
			if isRemote(target) {
				client := &http.Client{Timeout: remoteSizeTimeout}
				decision, size, err = delivery.DecideRemote(cmd.Context(), client, target, ceiling)
			} else {
				var path string
				path, err = resolveInput(target)
				if err != nil {
					return err
				}
				target = path
				decision, size, err = delivery.DecideFile(path, ceiling)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, struct {
					Target   string `json:"target"`
					Size     int64  `json:"size"`
					Ceiling  int64  `json:"ceiling"`
					Decision string `json:"decision"`
				}{target, size, ceiling, decision.String()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", target, describeDecision(decision, size, ceiling))
			return nil
		},
	}
	cmd.Flags().Int64Var(&ceiling, "ceiling", compress.Ceiling, "Largest size in bytes that may be attached")
	return withJSONFlag(cmd, &asJSON)
}

func isRemote(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
