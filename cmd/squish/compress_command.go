package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"squish/internal/compress"
	"squish/internal/delivery"
	"squish/internal/history"
	"squish/internal/logging"
)

// compressOutcome is one input's row in the compress report.
type compressOutcome struct {
	Source      string `json:"source"`
	Output      string `json:"output,omitempty"`
	MediaType   string `json:"media_type"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	InputSize   int64  `json:"input_size"`
	OutputSize  int64  `json:"output_size,omitempty"`
	Delivery    string `json:"delivery,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	UserMessage string `json:"message,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func newCompressCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var jobs int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compress <file>...",
		Short: "Re-encode images and videos until they fit under 8 MiB",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			engine, err := svc.engine()
			if err != nil {
				return err
			}
			store := svc.openHistory()
			if store != nil {
				defer store.Close()
			}

			if jobs <= 0 {
				jobs = 1
			}
			outcomes := make([]compressOutcome, len(args))
			var group errgroup.Group
			group.SetLimit(jobs)
			for i, arg := range args {
				group.Go(func() error {
					outcomes[i] = compressOne(cmd.Context(), svc, engine, store, arg, outputDir)
					return nil
				})
			}
			_ = group.Wait()

			if asJSON {
				if err := writeJSON(cmd, outcomes); err != nil {
					return err
				}
			} else {
				printCompressReport(cmd, outcomes)
			}

			if err := cmd.Context().Err(); err != nil {
				return err
			}
			failed := 0
			for _, o := range outcomes {
				if o.Status == string(history.StatusFailed) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d inputs failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for results (default: next to each input)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", max(1, runtime.NumCPU()/4), "Inputs to convert concurrently")
	return withJSONFlag(cmd, &asJSON)
}

func compressOne(parent context.Context, svc *services, engine *compress.Engine, store *history.Store, arg, outputFlag string) compressOutcome {
	ctx := requestContext(parent)
	logger := logging.WithContext(ctx, svc.logger)
	started := time.Now()
	outcome := compressOutcome{Source: arg, MediaType: "unknown"}

	fail := func(err error) compressOutcome {
		outcome.Status = string(history.StatusFailed)
		outcome.ErrorKind = compress.Kind(err)
		outcome.Error = err.Error()
		outcome.UserMessage = compress.UserMessage(err)
		outcome.DurationMS = time.Since(started).Milliseconds()
		var exhausted *compress.ExhaustedError
		if errors.As(err, &exhausted) {
			outcome.MediaType = exhausted.MediaType.String()
			outcome.Attempts = exhausted.Attempts
		}
		if !errors.Is(err, context.Canceled) {
			svc.record(ctx, store, outcome.historyEntry())
		}
		return outcome
	}

	source, err := resolveInput(arg)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", compress.ErrFilesystem, err))
	}
	outcome.Source = source
	if info, err := os.Stat(source); err == nil {
		outcome.InputSize = info.Size()
	}
	dir, err := resolveOutputDir(outputFlag, source)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", compress.ErrFilesystem, err))
	}

	result, err := engine.Convert(ctx, source)
	if err != nil {
		return fail(err)
	}
	outcome.MediaType = result.MediaType.String()
	outcome.Attempts = len(result.Attempts)
	outcome.InputSize = result.InputSize

	dst, err := placeArtifact(result.Path, dir, artifactName(source, "squished", result.Extension))
	if err != nil {
		_ = os.Remove(result.Path)
		return fail(fmt.Errorf("%w: %w", compress.ErrFilesystem, err))
	}
	outcome.Output = dst

	decision, size, err := delivery.DecideFile(dst, compress.Ceiling)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", compress.ErrFilesystem, err))
	}
	outcome.OutputSize = size
	outcome.Delivery = decision.String()
	outcome.Status = string(history.StatusConverted)
	if result.Passthrough {
		outcome.Status = string(history.StatusPassthrough)
	}
	outcome.DurationMS = time.Since(started).Milliseconds()

	logger.Info("compress finished",
		logging.String("output", dst),
		logging.String("status", outcome.Status),
		logging.String("delivery", outcome.Delivery),
	)
	svc.record(ctx, store, outcome.historyEntry())
	return outcome
}

func (o compressOutcome) historyEntry() history.Entry {
	return history.Entry{
		Source:     o.Source,
		Output:     o.Output,
		Operation:  "compress",
		MediaType:  o.MediaType,
		Status:     history.Status(o.Status),
		Attempts:   o.Attempts,
		InputSize:  o.InputSize,
		OutputSize: o.OutputSize,
		Delivery:   o.Delivery,
		ErrorKind:  o.ErrorKind,
		Error:      o.Error,
		Duration:   time.Duration(o.DurationMS) * time.Millisecond,
	}
}

func printCompressReport(cmd *cobra.Command, outcomes []compressOutcome) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		output := "-"
		if o.Output != "" {
			output = humanBytes(o.OutputSize)
		}
		rows = append(rows, []string{
			o.Source,
			o.MediaType,
			o.Status,
			strconv.Itoa(o.Attempts),
			humanBytes(o.InputSize),
			output,
			orDash(o.Delivery),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Input", "Type", "Result", "Attempts", "Input Size", "Output Size", "Delivery"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	for _, o := range outcomes {
		switch {
		case o.Output != "":
			fmt.Fprintf(out, "%s -> %s\n", o.Source, o.Output)
		case o.UserMessage != "":
			fmt.Fprintf(out, "%s: %s\n", o.Source, o.UserMessage)
		}
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
