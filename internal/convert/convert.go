// Package convert runs the single-shot format conversions squish offers next
// to size-driven compression: WebP and JPEG XL encodes through the libwebp
// and libjxl command-line tools, animated "favorite" WebPs, and arbitrary
// ffmpeg invocations.
//
// Outputs are written into the workspace. On failure every file the call
// created is removed; on success Result.Path belongs to the caller.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"squish/internal/logging"
	"squish/internal/procexec"
	"squish/internal/textutil"
	"squish/internal/workspace"
)

// ErrTool marks a conversion tool that exited non-zero.
var ErrTool = errors.New("conversion tool failed")

// ToolError carries the failing tool's exit status and stderr.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

func (e *ToolError) Unwrap() error { return ErrTool }

// Tools names the binaries Converter runs.
type Tools struct {
	FFmpeg   string
	Img2WebP string
	Gif2WebP string
	Cjxl     string
	Webpmux  string
}

// Result is a finished conversion.
type Result struct {
	Path string
	// Name is the suggested file name for the artifact.
	Name string
	Size int64
}

// Converter runs format conversions into a workspace.
type Converter struct {
	ws     *workspace.Workspace
	runner procexec.Runner
	tools  Tools
	logger *slog.Logger
}

// New constructs a Converter. Empty tool names fall back to the binary names
// on PATH.
func New(ws *workspace.Workspace, runner procexec.Runner, tools Tools, logger *slog.Logger) *Converter {
	tools.FFmpeg = orDefault(tools.FFmpeg, "ffmpeg")
	tools.Img2WebP = orDefault(tools.Img2WebP, "img2webp")
	tools.Gif2WebP = orDefault(tools.Gif2WebP, "gif2webp")
	tools.Cjxl = orDefault(tools.Cjxl, "cjxl")
	tools.Webpmux = orDefault(tools.Webpmux, "webpmux")
	return &Converter{
		ws:     ws,
		runner: runner,
		tools:  tools,
		logger: logging.NewComponentLogger(logger, "convert"),
	}
}

// WebP encodes input as WebP. GIFs go through gif2webp so animation is
// kept; everything else through img2webp losslessly. name is the original
// file name and drives both the tool choice and Result.Name.
func (c *Converter) WebP(ctx context.Context, input, name string) (Result, error) {
	if name == "" {
		name = filepath.Base(input)
	}
	return c.pipeline(ctx, input, replaceExt(name, "webp"), "webp", func(_ *workspace.Tracker, out string) ([]step, error) {
		if strings.EqualFold(filepath.Ext(name), ".gif") {
			return []step{{"gif2webp", c.tools.Gif2WebP, []string{"-v", input, "-mixed", "-mt", "-m", "6", "-o", out}}}, nil
		}
		return []step{{"img2webp", c.tools.Img2WebP, []string{"-v", "-sharp_yuv", input, "-lossless", "-m", "6", "-o", out}}}, nil
	})
}

// JXL encodes input as JPEG XL at the slowest effort setting.
func (c *Converter) JXL(ctx context.Context, input, name string) (Result, error) {
	if name == "" {
		name = filepath.Base(input)
	}
	return c.pipeline(ctx, input, replaceExt(name, "jxl"), "jxl", func(_ *workspace.Tracker, out string) ([]step, error) {
		return []step{{"cjxl", c.tools.Cjxl, []string{"-v", input, "-e", "10", out}}}, nil
	})
}

// Favoritize turns input into a WebP that chat clients can save as a
// favorite: a lossless single-frame animation from img2webp, then webpmux
// appends a transparent 1x1 frame and sets the loop count to 1.
func (c *Converter) Favoritize(ctx context.Context, input, name string) (Result, error) {
	if name == "" {
		name = filepath.Base(input)
	}
	return c.pipeline(ctx, input, replaceExt(name, "webp"), "webp", func(tracker *workspace.Tracker, out string) ([]step, error) {
		blank := tracker.Path("webp")
		if err := os.WriteFile(blank, transparentFrame, 0o644); err != nil {
			return nil, fmt.Errorf("write blank frame: %w", err)
		}
		return []step{
			{"img2webp", c.tools.Img2WebP, []string{
				"-v", "-sharp_yuv", "-loop", "0", input,
				"-d", "1", "-lossless", "-q", "100", "-m", "6", "-o", out,
			}},
			{"webpmux", c.tools.Webpmux, []string{
				"-frame", out, "+0+0+0+0",
				"-frame", blank, "+0+0+0+0",
				"-loop", "1", "-o", out,
			}},
		}, nil
	})
}

// FFmpeg runs ffmpeg over inputs with user supplied flags, writing a file
// whose type is taken from outputName's extension.
func (c *Converter) FFmpeg(ctx context.Context, inputs []string, flags, outputName string) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, errors.New("ffmpeg: at least one input required")
	}
	outputName = textutil.SanitizeFileName(filepath.Base(strings.TrimSpace(outputName)), "")
	ext := strings.TrimPrefix(filepath.Ext(outputName), ".")
	if ext == "" {
		return Result{}, fmt.Errorf("ffmpeg: output name %q needs an extension", outputName)
	}
	ext = textutil.SanitizeToken(ext)
	return c.pipeline(ctx, "", outputName, ext, func(_ *workspace.Tracker, out string) ([]step, error) {
		args := make([]string, 0, 2*len(inputs)+8)
		for _, in := range inputs {
			args = append(args, "-i", in)
		}
		args = append(args, strings.Fields(flags)...)
		return []step{{"ffmpeg", c.tools.FFmpeg, append(args, out)}}, nil
	})
}

// transparentFrame is a lossless 1x1 WebP whose only pixel is fully
// transparent.
var transparentFrame = []byte{
	'R', 'I', 'F', 'F', 0x1a, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P',
	'V', 'P', '8', 'L', 0x0d, 0x00, 0x00, 0x00,
	0x2f, 0x00, 0x00, 0x00, 0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xfe, 0x07, 0x00,
}

// step is one tool invocation of a pipeline.
type step struct {
	tag    string
	binary string
	args   []string
}

// pipeline runs steps in order, each of which must leave out in place. plan
// may allocate extra scratch files from tracker; all of them are removed
// when the pipeline ends, and out too unless every step succeeded.
func (c *Converter) pipeline(ctx context.Context, input, name, ext string, plan func(tracker *workspace.Tracker, out string) ([]step, error)) (Result, error) {
	if input != "" {
		if _, err := os.Stat(input); err != nil {
			return Result{}, fmt.Errorf("stat input: %w", err)
		}
	}
	release, err := c.ws.Shared(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tracker := c.ws.Track()
	out := tracker.Path(ext)
	logger := logging.WithContext(ctx, c.logger)

	var result Result
	steps, err := plan(tracker, out)
	for _, s := range steps {
		if err != nil {
			break
		}
		logger = logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldTool, s.tag))
		result, err = c.run(ctx, s.tag, s.binary, s.args, out)
	}
	keep := ""
	if err == nil {
		keep = out
	}
	if cleanupErr := tracker.Release(keep); cleanupErr != nil {
		logging.WarnWithContext(logger, "failed to remove intermediate files", "cleanup_failed",
			logging.Error(cleanupErr),
			logging.String(logging.FieldImpact, "temporary files left in workspace"),
		)
	}
	if err != nil {
		logger.Warn("conversion failed", logging.Error(err), logging.String(logging.FieldEventType, "convert_failed"))
		return Result{}, err
	}
	result.Name = name
	logger.Info("conversion complete",
		logging.String("output", out),
		logging.Size("size", result.Size),
		logging.String(logging.FieldEventType, "convert_complete"),
	)
	return result, nil
}

func (c *Converter) run(ctx context.Context, tag, binary string, args []string, out string) (Result, error) {
	res, err := c.runner.Run(ctx, tag, binary, args)
	if err != nil {
		return Result{}, err
	}
	if !res.ExitSuccess {
		return Result{}, &ToolError{Tool: tag, ExitCode: res.ExitCode, Stderr: res.StderrText()}
	}
	info, err := os.Stat(out)
	if err != nil {
		return Result{}, fmt.Errorf("%s produced no output: %w", tag, err)
	}
	return Result{Path: out, Size: info.Size()}, nil
}

func replaceExt(name, ext string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "output"
	}
	return stem + "." + ext
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value == "" {
		return fallback
	}
	return value
}
