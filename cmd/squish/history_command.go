package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"squish/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (set [history] enabled = true)")
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, struct {
					Entries []history.Entry `json:"entries"`
					Stats   history.Stats   `json:"stats"`
				}{entries, stats})
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No conversions recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.CreatedAt.Local().Format(time.DateTime),
					e.Operation,
					filepath.Base(e.Source),
					string(e.Status),
					humanBytes(e.InputSize),
					sizeOrDash(e.OutputSize),
					orDash(e.Delivery),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "When", "Op", "Source", "Status", "In", "Out", "Delivery"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintln(out, summarizeStats(stats))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return withJSONFlag(cmd, &asJSON)
}

// summarizeStats renders totals with locale grouping ("1,234 conversions").
func summarizeStats(stats history.Stats) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%d conversions: %d converted, %d passed through, %d failed; saved %s",
		stats.Total, stats.Converted, stats.Passthrough, stats.Failed, humanBytes(stats.Saved()))
}

func sizeOrDash(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanBytes(size)
}
