package deps

import (
	"context"
	"fmt"
	"strings"

	"squish/internal/procexec"
)

// RequiredEncoders are the ffmpeg encoders the compression engine invokes.
var RequiredEncoders = []string{"libwebp", "libx265"}

// CheckFFmpegEncoders asks ffmpeg for its encoder list and reports whether
// every encoder in RequiredEncoders was compiled in.
func CheckFFmpegEncoders(ctx context.Context, runner procexec.Runner, binary string) Status {
	status := Status{
		Name:        "FFmpeg encoders",
		Command:     binary,
		Description: strings.Join(RequiredEncoders, ", "),
	}
	res, err := runner.Run(ctx, "ffmpeg", binary, []string{"-hide_banner", "-encoders"})
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	if !res.ExitSuccess {
		status.Detail = fmt.Sprintf("ffmpeg -encoders exited with status %d", res.ExitCode)
		return status
	}

	available := map[string]struct{}{}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		// " V....D libx265              libx265 H.265 / HEVC (codec hevc)"
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			available[fields[1]] = struct{}{}
		}
	}
	var missing []string
	for _, enc := range RequiredEncoders {
		if _, ok := available[enc]; !ok {
			missing = append(missing, enc)
		}
	}
	if len(missing) > 0 {
		status.Detail = "missing encoders: " + strings.Join(missing, ", ")
		return status
	}
	status.Available = true
	return status
}
