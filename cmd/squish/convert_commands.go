package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"squish/internal/compress"
	"squish/internal/convert"
	"squish/internal/delivery"
	"squish/internal/history"
	"squish/internal/logging"
)

// toolOutcome reports one supplemental conversion.
type toolOutcome struct {
	Operation  string   `json:"operation"`
	Sources    []string `json:"sources"`
	Output     string   `json:"output"`
	OutputSize int64    `json:"output_size"`
	Delivery   string   `json:"delivery"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an image to WebP or JPEG XL, or make a favorite-ready WebP",
	}
	cmd.AddCommand(newConvertFormatCommand(ctx, "webp", "Convert to WebP (gif2webp for GIFs, lossless img2webp otherwise)",
		func(c *convert.Converter) convertFunc { return c.WebP }))
	cmd.AddCommand(newConvertFormatCommand(ctx, "jxl", "Convert to JPEG XL with cjxl",
		func(c *convert.Converter) convertFunc { return c.JXL }))
	cmd.AddCommand(newConvertFormatCommand(ctx, "favoritize", "Make a WebP that can be saved as a favorite (img2webp + webpmux)",
		func(c *convert.Converter) convertFunc { return c.Favoritize }))
	return cmd
}

type convertFunc func(ctx context.Context, input, name string) (convert.Result, error)

func newConvertFormatCommand(ctx *commandContext, format, short string, pick func(*convert.Converter) convertFunc) *cobra.Command {
	var outputDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   format + " <file>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			source, err := resolveInput(args[0])
			if err != nil {
				return err
			}
			dir, err := resolveOutputDir(outputDir, source)
			if err != nil {
				return err
			}
			run := pick(svc.converter())
			return runTool(cmd, svc, format, []string{source}, dir, asJSON, func(rctx context.Context) (convert.Result, error) {
				return run(rctx, source, filepath.Base(source))
			})
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the result (default: next to the input)")
	return withJSONFlag(cmd, &asJSON)
}

func newFFmpegCommand(ctx *commandContext) *cobra.Command {
	var flags string
	var outputName string
	var outputDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ffmpeg --output <name.ext> [--flags '<ffmpeg flags>'] <input>...",
		Short: "Run ffmpeg over one or more inputs with custom flags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputName) == "" {
				return errors.New("--output is required")
			}
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			inputs := make([]string, 0, len(args))
			for _, arg := range args {
				source, err := resolveInput(arg)
				if err != nil {
					return err
				}
				inputs = append(inputs, source)
			}
			dir, err := resolveOutputDir(outputDir, inputs[0])
			if err != nil {
				return err
			}
			converter := svc.converter()
			return runTool(cmd, svc, "ffmpeg", inputs, dir, asJSON, func(rctx context.Context) (convert.Result, error) {
				return converter.FFmpeg(rctx, inputs, flags, outputName)
			})
		},
	}
	cmd.Flags().StringVar(&flags, "flags", "", "Flags placed between the inputs and the output")
	cmd.Flags().StringVar(&outputName, "output", "", "Output file name; its extension picks the container")
	cmd.Flags().StringVarP(&outputDir, "dir", "d", "", "Directory for the result (default: next to the first input)")
	return withJSONFlag(cmd, &asJSON)
}

// runTool runs one supplemental conversion, places its artifact, records it,
// and prints the outcome.
func runTool(cmd *cobra.Command, svc *services, operation string, sources []string, dir string, asJSON bool, run func(context.Context) (convert.Result, error)) error {
	ctx := requestContext(cmd.Context())
	started := time.Now()
	store := svc.openHistory()
	if store != nil {
		defer store.Close()
	}
	entry := history.Entry{
		Source:    strings.Join(sources, ", "),
		Operation: operation,
		MediaType: "image",
	}
	if operation == "ffmpeg" {
		entry.MediaType = "unknown"
	}
	if info, err := os.Stat(sources[0]); err == nil {
		entry.InputSize = info.Size()
	}
	finish := func(err error) error {
		entry.Duration = time.Since(started)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			entry.Status = history.StatusFailed
			entry.ErrorKind = toolErrorKind(err)
			entry.Error = err.Error()
		}
		svc.record(ctx, store, entry)
		return err
	}

	result, err := run(ctx)
	if err != nil {
		return finish(err)
	}
	dst, err := placeArtifact(result.Path, dir, result.Name)
	if err != nil {
		_ = os.Remove(result.Path)
		return finish(err)
	}
	decision, size, err := delivery.DecideFile(dst, compress.Ceiling)
	if err != nil {
		return finish(err)
	}
	entry.Status = history.StatusConverted
	entry.Attempts = 1
	entry.Output = dst
	entry.OutputSize = size
	entry.Delivery = decision.String()
	if err := finish(nil); err != nil {
		return err
	}

	logging.WithContext(ctx, svc.logger).Info("conversion finished",
		logging.String("operation", operation),
		logging.String("output", dst),
		logging.String("delivery", decision.String()),
	)

	outcome := toolOutcome{
		Operation:  operation,
		Sources:    sources,
		Output:     dst,
		OutputSize: size,
		Delivery:   decision.String(),
	}
	if asJSON {
		return writeJSON(cmd, outcome)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%s)\n", dst, humanBytes(size))
	fmt.Fprintf(out, "Delivery: %s\n", describeDecision(decision, size, compress.Ceiling))
	return nil
}

func toolErrorKind(err error) string {
	var toolErr *convert.ToolError
	if errors.As(err, &toolErr) {
		return "encode"
	}
	return compress.Kind(err)
}

func describeDecision(decision delivery.Decision, size, ceiling int64) string {
	if decision == delivery.Attach {
		return fmt.Sprintf("attach (%s fits under %s)", humanBytes(size), humanBytes(ceiling))
	}
	return fmt.Sprintf("link only (%s exceeds %s)", humanBytes(size), humanBytes(ceiling))
}
