package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"squish/internal/logging"
	"squish/internal/procexec"
)

// ErrProbe marks ffprobe failures: non-zero exit or output that does not
// parse.
var ErrProbe = errors.New("probe failed")

// StreamInfo holds the numbers bitrate planning needs.
type StreamInfo struct {
	DurationSeconds float64
	VideoBitrate    uint64
	AudioBitrate    uint64
}

// Prober runs ffprobe through a Runner.
type Prober struct {
	binary string
	runner procexec.Runner
	logger *slog.Logger
}

// NewProber constructs a Prober. An empty binary defaults to "ffprobe".
func NewProber(binary string, runner procexec.Runner, logger *slog.Logger) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{
		binary: binary,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "ffprobe"),
	}
}

// FormatName returns the container format_name reported by ffprobe.
func (p *Prober) FormatName(ctx context.Context, path string) (string, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=format_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := p.run(ctx, args)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", fmt.Errorf("%w: empty format name for %s", ErrProbe, path)
	}
	return name, nil
}

// Classify reports the media type of path. Probe failures are logged and
// reported as Unknown.
func (p *Prober) Classify(ctx context.Context, path string) MediaType {
	name, err := p.FormatName(ctx, path)
	if err != nil {
		p.logger.Debug("classification failed; treating as unknown",
			logging.String("path", path),
			logging.Error(err),
		)
		return Unknown
	}
	mediaType := ClassifyFormat(name)
	p.logger.Debug("classified input",
		logging.String("path", path),
		logging.String("format_name", name),
		logging.String("media_type", mediaType.String()),
	)
	return mediaType
}

// StreamEntry returns a single stream field for the selected stream
// (selector "v:0", "a:0", ...).
func (p *Prober) StreamEntry(ctx context.Context, path, selector, entry string) (string, error) {
	args := []string{
		"-v", "error",
		"-select_streams", selector,
		"-show_entries", "stream=" + entry,
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := p.run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", selector, entry, err)
	}
	return strings.TrimSpace(out), nil
}

// StreamInfo probes the first video stream's duration and bitrate and the
// first audio stream's bitrate. There are no defaults: every field must be
// present and numeric.
func (p *Prober) StreamInfo(ctx context.Context, path string) (StreamInfo, error) {
	var info StreamInfo

	raw, err := p.StreamEntry(ctx, path, "v:0", "duration")
	if err != nil {
		return StreamInfo{}, err
	}
	if info.DurationSeconds, err = parseDuration(raw); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: v:0 duration %q: %w", ErrProbe, raw, err)
	}

	raw, err = p.StreamEntry(ctx, path, "v:0", "bit_rate")
	if err != nil {
		return StreamInfo{}, err
	}
	if info.VideoBitrate, err = parseBitrate(raw); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: v:0 bit_rate %q: %w", ErrProbe, raw, err)
	}

	raw, err = p.StreamEntry(ctx, path, "a:0", "bit_rate")
	if err != nil {
		return StreamInfo{}, err
	}
	if info.AudioBitrate, err = parseBitrate(raw); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: a:0 bit_rate %q: %w", ErrProbe, raw, err)
	}

	p.logger.Debug("stream info",
		logging.String("path", path),
		logging.Float64("duration_seconds", info.DurationSeconds),
		logging.Uint64("video_bitrate", info.VideoBitrate),
		logging.Uint64("audio_bitrate", info.AudioBitrate),
	)
	return info, nil
}

// Inspect executes ffprobe against the provided path and decodes the full
// JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}
	out, err := p.run(ctx, []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path})
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return Result{}, fmt.Errorf("%w: parse json: %w", ErrProbe, err)
	}
	return result, nil
}

func (p *Prober) run(ctx context.Context, args []string) (string, error) {
	res, err := p.runner.Run(ctx, "ffprobe", p.binary, args)
	if err != nil {
		return "", err
	}
	if !res.ExitSuccess {
		return "", fmt.Errorf("%w: exit status %d: %s", ErrProbe, res.ExitCode, res.StderrText())
	}
	return string(res.Stdout), nil
}

func parseDuration(value string) (float64, error) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 {
		return 0, fmt.Errorf("out of range")
	}
	return parsed, nil
}

func parseBitrate(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}
