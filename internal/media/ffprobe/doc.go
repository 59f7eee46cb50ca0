// Package ffprobe wraps the ffprobe binary for media classification and
// stream inspection.
//
// Key types:
//   - MediaType: Unknown, Image or Video, derived from the container format name
//   - StreamInfo: first video stream duration and bitrate plus first audio bitrate
//   - Result: full JSON inspection (streams and format metadata)
//
// Primary entry points:
//   - Prober.Classify: best-effort classification, failures become Unknown
//   - Prober.StreamInfo: strict probe used for bitrate planning
//   - Prober.Inspect: JSON inspection used by the probe command
//
// Every ffprobe invocation goes through a procexec.Runner so tests can
// substitute canned output.
package ffprobe
