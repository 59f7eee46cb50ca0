package compress

import (
	"context"
	"strconv"

	"squish/internal/media/ffprobe"
)

// imageQuality returns the WebP quality for a 0-based attempt: 90, 85, 80.
func imageQuality(attempt int) int {
	return imageQualityStart - imageQualityStep*attempt
}

func imageArgs(input, output string, quality int) []string {
	return []string{
		"-y",
		"-i", input,
		"-vf", "fps=" + strconv.Itoa(MaxFPS),
		"-vcodec", "libwebp",
		"-lossless", "1",
		"-compression_level", "6",
		"-loop", "0",
		"-preset", "picture",
		"-an",
		"-vsync", "vfr",
		"-f", "webp",
		"-q:v", strconv.Itoa(quality),
		output,
	}
}

func (j *job) image(ctx context.Context) (Result, error) {
	if j.engine.skipSmallInputs && j.inputSize < Ceiling {
		return j.passthrough()
	}

	var (
		attempts []Attempt
		lastSize int64
		lastErr  error
	)
	for n := 0; n < ImageAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, err
		}
		attempt := Attempt{Number: n + 1, TargetSize: Ceiling, Quality: imageQuality(n)}
		out := j.tracker.Path("webp")

		size, err := j.encode(ctx, &attempt, imageArgs(j.input, out, attempt.Quality), out)
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
			return Result{Path: out, Extension: "webp", Size: size, Attempts: attempts}, nil
		}
		lastSize = size
		j.discard(out)
	}

	return Result{Attempts: attempts}, &ExhaustedError{
		MediaType: ffprobe.Image,
		Attempts:  len(attempts),
		LastSize:  lastSize,
		Ceiling:   Ceiling,
		Last:      lastErr,
	}
}
