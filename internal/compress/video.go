package compress

import (
	"context"
	"strconv"

	"squish/internal/logging"
	"squish/internal/media/bitrate"
	"squish/internal/media/ffprobe"
)

// videoTarget is the size budget for a 0-based attempt: one MiB under the
// ceiling for the first attempt, two for the second.
func videoTarget(attempt int) int64 {
	return Ceiling - int64(attempt+1)*MiB
}

func videoArgs(input, output string, videoBitrate uint64, capFPS bool) []string {
	args := []string{
		"-y",
		"-i", input,
		"-c:v", "libx265",
		"-preset", "medium",
		"-f", "mp4",
	}
	if capFPS {
		args = append(args, "-vf", "fps="+strconv.Itoa(MaxFPS))
	}
	return append(args,
		"-b:v", strconv.FormatUint(videoBitrate/1024, 10)+"k",
		output,
	)
}

func (j *job) video(ctx context.Context) (Result, error) {
	if j.engine.skipSmallInputs && j.inputSize <= videoTarget(0) {
		return j.passthrough()
	}

	info, err := j.engine.prober.StreamInfo(ctx, j.input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, wrap(ErrProbe, "probe stream info", "", err)
	}
	j.logger.Debug("planning video encode",
		logging.Float64("duration_seconds", info.DurationSeconds),
		logging.Uint64("source_video_bitrate", info.VideoBitrate),
		logging.Uint64("source_audio_bitrate", info.AudioBitrate),
	)

	var (
		attempts []Attempt
		lastSize int64
		lastErr  error
	)
	for n := 0; n < VideoAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, err
		}
		target := videoTarget(n)
		rate := bitrate.EstimateVideoBitrate(info.VideoBitrate, info.AudioBitrate, info.DurationSeconds, uint64(target)*8)
		attempt := Attempt{
			Number:       n + 1,
			TargetSize:   target,
			VideoBitrate: rate,
			FPSCapped:    rate < info.VideoBitrate,
		}
		out := j.tracker.Path("mp4")

		size, err := j.encode(ctx, &attempt, videoArgs(j.input, out, rate, attempt.FPSCapped), out)
		attempt.ProducedSize = size
		attempt.Err = err
		j.logAttempt(attempt)
		attempts = append(attempts, attempt)

		if err != nil {
			if !retryable(err) {
				return Result{Attempts: attempts}, err
			}
			lastErr = err
			j.discard(out)
			continue
		}
		lastErr = nil
		if size <= Ceiling {
			return Result{Path: out, Extension: "mp4", Size: size, Attempts: attempts}, nil
		}
		lastSize = size
		j.discard(out)
	}

	return Result{Attempts: attempts}, &ExhaustedError{
		MediaType: ffprobe.Video,
		Attempts:  len(attempts),
		LastSize:  lastSize,
		Ceiling:   Ceiling,
		Last:      lastErr,
	}
}
