package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"squish/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check external tools, directories, and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			cfg := svc.cfg

			tools := deps.CheckBinaries(deps.Requirements(cfg))
			for _, s := range tools {
				if s.Command == cfg.Tools.FFmpeg && s.Available {
					tools = append(tools, deps.CheckFFmpegEncoders(requestContext(cmd.Context()), svc.runner, cfg.Tools.FFmpeg))
					break
				}
			}
			dirs := []deps.Status{
				deps.CheckDirectoryAccess("Workspace", cfg.Paths.TempDir),
				deps.CheckDirectoryAccess("Data", cfg.Paths.DataDir),
				deps.CheckDirectoryAccess("Logs", cfg.Paths.LogDir),
			}

			historyLine := "disabled"
			historyKind := statusInfo
			if cfg.History.Enabled {
				if store := svc.openHistory(); store != nil {
					stats, err := store.Stats(cmd.Context())
					store.Close()
					if err != nil {
						historyKind, historyLine = statusError, err.Error()
					} else {
						historyKind, historyLine = statusOK, fmt.Sprintf("%d conversions recorded", stats.Total)
					}
				} else {
					historyKind, historyLine = statusWarn, "unavailable; see log"
				}
			}

			files, _ := svc.ws.List()
			var pending int64
			for _, f := range files {
				pending += f.Size
			}

			missing := deps.Missing(append(append([]deps.Status{}, tools...), dirs...))

			if asJSON {
				if err := writeJSON(cmd, struct {
					Tools          []deps.Status `json:"tools"`
					Directories    []deps.Status `json:"directories"`
					HistoryEnabled bool          `json:"history_enabled"`
					WorkspaceFiles int           `json:"workspace_files"`
					WorkspaceBytes int64         `json:"workspace_bytes"`
				}{tools, dirs, cfg.History.Enabled, len(files), pending}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := renderSectionHeader("Tools", colorize)
				for _, s := range tools {
					lines = append(lines, dependencyLine(s, colorize))
				}
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Directories", colorize)...)
				for _, s := range dirs {
					lines = append(lines, dependencyLine(s, colorize))
				}
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("State", colorize)...)
				lines = append(lines, renderStatusLine("History", historyKind, historyLine, colorize))
				lines = append(lines, renderStatusLine("Workspace files", statusInfo,
					fmt.Sprintf("%d (%s)", len(files), humanBytes(pending)), colorize))
				lines = append(lines, renderStatusLine("Skip small inputs", statusInfo, yesNo(cfg.Media.SkipSmallInputs), colorize))
				fmt.Fprintln(out, strings.Join(lines, "\n"))
			}

			if len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, m.Name)
				}
				return fmt.Errorf("missing required dependencies: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	return withJSONFlag(cmd, &asJSON)
}
