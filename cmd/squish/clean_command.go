package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"squish/internal/history"
	"squish/internal/logging"
	"squish/internal/workspace"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var historyDays int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale workspace files, old logs, and optionally old history",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			cfg := svc.cfg
			out := cmd.OutOrStdout()

			maxAge := olderThan
			if !cmd.Flags().Changed("older-than") {
				maxAge = time.Duration(cfg.Media.StaleTempMinutes) * time.Minute
			}
			result, err := svc.ws.CleanStale(cmd.Context(), maxAge)
			switch {
			case errors.Is(err, workspace.ErrBusy):
				fmt.Fprintln(out, "Workspace: skipped, a conversion is running")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "Workspace: removed %d files (%s)\n", len(result.Removed), humanBytes(result.Freed))
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  failed to remove %s: %v\n", e.Path, e.Error)
				}
			}

			pruned := logging.PruneLogs(svc.logger, time.Now(), cfg.Logging.RetentionDays, logging.RetentionTarget{
				Dir:     cfg.Paths.LogDir,
				Pattern: "*.log*",
				Exclude: []string{cfg.LogPath()},
			})
			if cfg.Logging.RetentionDays > 0 {
				fmt.Fprintf(out, "Logs: removed %d files older than %d days\n", pruned, cfg.Logging.RetentionDays)
			}

			if historyDays > 0 {
				if !cfg.History.Enabled {
					return errors.New("history is disabled; nothing to prune")
				}
				store, err := history.Open(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				removed, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -historyDays))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "History: removed %d entries older than %d days from %s\n", removed, historyDays, filepath.Base(store.Path()))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Remove workspace files older than this (default: media.stale_temp_minutes)")
	cmd.Flags().IntVar(&historyDays, "history-days", 0, "Also delete history entries older than this many days")
	return cmd
}
