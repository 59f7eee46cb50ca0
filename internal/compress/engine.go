package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"squish/internal/fileutil"
	"squish/internal/logging"
	"squish/internal/media/ffprobe"
	"squish/internal/procexec"
	"squish/internal/workspace"
)

const (
	// MiB is one mebibyte.
	MiB int64 = 1024 * 1024
	// Ceiling is the largest artifact a chat upload accepts.
	Ceiling = 8 * MiB

	// ImageAttempts is the image encode budget.
	ImageAttempts = 3
	// VideoAttempts is the video encode budget.
	VideoAttempts = 2
	// MaxFPS caps the output frame rate of re-encoded media.
	MaxFPS = 30

	imageQualityStart = 90
	imageQualityStep  = 5
)

// Prober is the subset of ffprobe.Prober the engine needs.
type Prober interface {
	Classify(ctx context.Context, path string) ffprobe.MediaType
	StreamInfo(ctx context.Context, path string) (ffprobe.StreamInfo, error)
}

// Options configures an Engine.
type Options struct {
	Workspace *workspace.Workspace
	Runner    procexec.Runner
	Prober    Prober
	// FFmpeg is the encoder binary; empty means "ffmpeg".
	FFmpeg string
	// SkipSmallInputs passes inputs that already fit through without
	// re-encoding.
	SkipSmallInputs bool
	Logger          *slog.Logger
}

// Engine converts media files to fit under Ceiling.
type Engine struct {
	ws              *workspace.Workspace
	runner          procexec.Runner
	prober          Prober
	ffmpeg          string
	skipSmallInputs bool
	logger          *slog.Logger
}

// New validates opts and builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Workspace == nil {
		return nil, errors.New("compress: workspace required")
	}
	if opts.Runner == nil {
		return nil, errors.New("compress: runner required")
	}
	if opts.Prober == nil {
		return nil, errors.New("compress: prober required")
	}
	ffmpeg := strings.TrimSpace(opts.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Engine{
		ws:              opts.Workspace,
		runner:          opts.Runner,
		prober:          opts.Prober,
		ffmpeg:          ffmpeg,
		skipSmallInputs: opts.SkipSmallInputs,
		logger:          logging.NewComponentLogger(opts.Logger, "compress"),
	}, nil
}

// Attempt records one encoder run.
type Attempt struct {
	// Number is 1-based.
	Number       int
	TargetSize   int64
	Quality      int
	VideoBitrate uint64
	FPSCapped    bool
	ProducedSize int64
	Duration     time.Duration
	Err          error
}

// Result describes the artifact Convert produced. The caller owns Path and
// must remove it when done.
type Result struct {
	Path        string
	Extension   string
	Size        int64
	InputSize   int64
	MediaType   ffprobe.MediaType
	Passthrough bool
	Attempts    []Attempt
}

// Convert produces a file under Ceiling from inputPath. On error no
// workspace files created by the call remain.
func (e *Engine) Convert(ctx context.Context, inputPath string) (Result, error) {
	logger := logging.WithContext(ctx, e.logger).With(logging.String("input", inputPath))

	info, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, wrap(ErrFilesystem, "stat input", "", err)
	}
	if info.IsDir() {
		return Result{}, wrap(ErrFilesystem, "stat input", inputPath+" is a directory", nil)
	}

	release, err := e.ws.Shared(ctx)
	if err != nil {
		return Result{}, wrap(ErrFilesystem, "lock workspace", "", err)
	}
	defer release()

	mediaType := e.prober.Classify(ctx, inputPath)
	if mediaType == ffprobe.Unknown {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, filepath.Base(inputPath))
	}

	job := &job{
		engine:    e,
		logger:    logger.With(logging.String("media_type", mediaType.String())),
		tracker:   e.ws.Track(),
		input:     inputPath,
		inputSize: info.Size(),
	}

	var result Result
	switch mediaType {
	case ffprobe.Image:
		result, err = job.image(ctx)
	case ffprobe.Video:
		result, err = job.video(ctx)
	}
	result.MediaType = mediaType
	result.InputSize = info.Size()

	keep := ""
	if err == nil {
		keep = result.Path
	}
	if cleanupErr := job.tracker.Release(keep); cleanupErr != nil {
		logging.WarnWithContext(logger, "failed to remove intermediate files", "cleanup_failed",
			logging.Error(cleanupErr),
			logging.String(logging.FieldErrorHint, "check temp_dir permissions; squish clean removes leftovers"),
			logging.String(logging.FieldImpact, "temporary files left in workspace"),
		)
	}
	if err != nil {
		logger.Warn("conversion failed",
			logging.String(logging.FieldEventType, "convert_failed"),
			logging.String("kind", Kind(err)),
			logging.Int(logging.FieldAttempt, len(result.Attempts)),
			logging.Error(err),
		)
		return Result{MediaType: mediaType, InputSize: info.Size(), Attempts: result.Attempts}, err
	}

	logger.Info("conversion complete",
		logging.String(logging.FieldEventType, "convert_complete"),
		logging.String("output", result.Path),
		logging.Size("input_size", result.InputSize),
		logging.Size("output_size", result.Size),
		logging.Bool("passthrough", result.Passthrough),
		logging.Int(logging.FieldAttempt, len(result.Attempts)),
	)
	return result, nil
}

// job carries the per-call state of one Convert.
type job struct {
	engine    *Engine
	logger    *slog.Logger
	tracker   *workspace.Tracker
	input     string
	inputSize int64
}

func (j *job) passthrough() (Result, error) {
	ext := strings.TrimPrefix(filepath.Ext(j.input), ".")
	dst := j.tracker.Path(ext)
	if err := fileutil.CopyFile(j.input, dst); err != nil {
		return Result{}, wrap(ErrFilesystem, "copy input", "", err)
	}
	j.logger.Info("input already fits; passing through",
		logging.Size("size", j.inputSize),
	)
	return Result{
		Path:        dst,
		Extension:   ext,
		Size:        j.inputSize,
		Passthrough: true,
	}, nil
}

// encode runs one ffmpeg attempt writing to out and returns the output size.
// A non-zero exit yields an *EncodeError; spawn failures and cancellation are
// returned as-is.
func (j *job) encode(ctx context.Context, attempt *Attempt, args []string, out string) (int64, error) {
	started := time.Now()
	res, err := j.engine.runner.Run(ctx, "ffmpeg", j.engine.ffmpeg, args)
	attempt.Duration = time.Since(started)
	if err != nil {
		return 0, err
	}
	if !res.ExitSuccess {
		return 0, &EncodeError{
			Tool:     "ffmpeg",
			Attempt:  attempt.Number,
			ExitCode: res.ExitCode,
			Stderr:   res.StderrText(),
		}
	}
	info, err := os.Stat(out)
	if err != nil {
		return 0, wrap(ErrFilesystem, "stat output", "", err)
	}
	return info.Size(), nil
}

// retryable reports whether err from encode should move on to the next
// attempt rather than abort the conversion.
func retryable(err error) bool {
	var encodeErr *EncodeError
	return errors.As(err, &encodeErr)
}

// discard drops a rejected attempt's output. A failure only means the file
// stays until the tracker is released.
func (j *job) discard(path string) {
	if err := j.tracker.Discard(path); err != nil {
		logging.WarnWithContext(j.logger, "failed to remove rejected attempt output", "cleanup_failed",
			logging.Error(err),
			logging.String("path", path),
			logging.String(logging.FieldImpact, "attempt output kept until the conversion finishes"),
		)
	}
}

func (j *job) logAttempt(attempt Attempt) {
	attrs := []logging.Attr{
		logging.Int(logging.FieldAttempt, attempt.Number),
		logging.Size("target", attempt.TargetSize),
		logging.Duration("elapsed", attempt.Duration),
	}
	if attempt.Quality > 0 {
		attrs = append(attrs, logging.Int("quality", attempt.Quality))
	}
	if attempt.VideoBitrate > 0 {
		attrs = append(attrs, logging.Bitrate("video_bitrate", attempt.VideoBitrate), logging.Bool("fps_capped", attempt.FPSCapped))
	}
	switch {
	case attempt.Err != nil:
		j.logger.Warn("encode attempt failed", logging.Args(append(attrs,
			logging.String(logging.FieldEventType, "encode_failed"),
			logging.Error(attempt.Err))...)...)
	case attempt.ProducedSize > Ceiling:
		j.logger.Info("encode attempt too large", logging.Args(append(attrs,
			logging.Size("size", attempt.ProducedSize))...)...)
	default:
		j.logger.Info("encode attempt fits", logging.Args(append(attrs,
			logging.Size("size", attempt.ProducedSize))...)...)
	}
}
