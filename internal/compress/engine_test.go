package compress_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"squish/internal/compress"
	"squish/internal/logging"
	"squish/internal/media/ffprobe"
	"squish/internal/procexec"
	"squish/internal/testsupport"
	"squish/internal/workspace"
)

const mib = compress.MiB

// fakeMedia scripts ffprobe answers and the sizes successive ffmpeg runs
// produce. A negative size makes that run exit non-zero.
type fakeMedia struct {
	t       *testing.T
	format  string
	streams map[string]string
	sizes   []int64
	ffmpegN int
}

func (f *fakeMedia) handle(call testsupport.RunnerCall) (procexec.Result, error) {
	switch call.Tag {
	case "ffprobe":
		if call.HasArg("format=format_name") {
			if f.format == "" {
				return testsupport.Failed(1, "Invalid data found when processing input"), nil
			}
			return testsupport.Succeeded(f.format + "\n"), nil
		}
		key := call.ArgAfter("-select_streams") + " " + strings.TrimPrefix(call.ArgAfter("-show_entries"), "stream=")
		value, ok := f.streams[key]
		if !ok {
			return testsupport.Failed(1, "no stream "+key), nil
		}
		return testsupport.Succeeded(value + "\n"), nil
	case "ffmpeg":
		if f.ffmpegN >= len(f.sizes) {
			f.t.Fatalf("unexpected ffmpeg run %d", f.ffmpegN+1)
		}
		size := f.sizes[f.ffmpegN]
		f.ffmpegN++
		if size < 0 {
			return testsupport.Failed(1, "Error while opening encoder"), nil
		}
		testsupport.WriteOutput(f.t, call, size)
		return testsupport.Succeeded(""), nil
	}
	f.t.Fatalf("unexpected tool %q", call.Tag)
	return procexec.Result{}, nil
}

type harness struct {
	engine *compress.Engine
	runner *testsupport.FakeRunner
	ws     *workspace.Workspace
	inDir  string
	logs   *bytes.Buffer
}

func newHarness(t *testing.T, media *fakeMedia, skipSmall bool) *harness {
	t.Helper()
	media.t = t
	base := t.TempDir()
	ws, err := workspace.New(filepath.Join(base, "tmp"), logging.NewNop())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	runner := &testsupport.FakeRunner{Handle: media.handle}
	logs := &bytes.Buffer{}
	engine, err := compress.New(compress.Options{
		Workspace:       ws,
		Runner:          runner,
		Prober:          ffprobe.NewProber("ffprobe", runner, nil),
		SkipSmallInputs: skipSmall,
		Logger:          slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	return &harness{engine: engine, runner: runner, ws: ws, inDir: filepath.Join(base, "in"), logs: logs}
}

func (h *harness) input(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(h.inDir, name)
	testsupport.WriteFile(t, path, size)
	return path
}

func (h *harness) workspaceFiles(t *testing.T) []string {
	t.Helper()
	files, err := h.ws.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func videoStreams() map[string]string {
	return map[string]string{
		"v:0 duration": "10.000000",
		"v:0 bit_rate": "20000000",
		"a:0 bit_rate": "128000",
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := compress.New(compress.Options{}); err == nil {
		t.Fatal("expected error without workspace")
	}
}

func TestConvertImageQualitySequenceThenExhausted(t *testing.T) {
	media := &fakeMedia{format: "png_pipe", sizes: []int64{9 * mib, 9 * mib, 9 * mib}}
	h := newHarness(t, media, true)
	input := h.input(t, "huge.png", 12*mib)

	result, err := h.engine.Convert(context.Background(), input)
	if !errors.Is(err, compress.ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", err)
	}
	var exhausted *compress.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Attempts != compress.ImageAttempts || exhausted.LastSize != 9*mib {
		t.Fatalf("unexpected exhaustion detail %+v", exhausted)
	}
	if errors.Is(err, compress.ErrEncode) {
		t.Fatal("oversized attempts should not look like encode failures")
	}

	calls := h.runner.CallsTo("ffmpeg")
	if len(calls) != 3 {
		t.Fatalf("expected 3 ffmpeg runs, got %d", len(calls))
	}
	for i, want := range []string{"90", "85", "80"} {
		if got := calls[i].ArgAfter("-q:v"); got != want {
			t.Fatalf("attempt %d quality = %s, want %s", i+1, got, want)
		}
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected attempts recorded on failure, got %d", len(result.Attempts))
	}
	if result.Path != "" {
		t.Fatalf("expected no artifact on failure, got %q", result.Path)
	}
	if files := h.workspaceFiles(t); len(files) != 0 {
		t.Fatalf("expected empty workspace after failure, got %v", files)
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("input must not be touched: %v", err)
	}
}

func TestConvertImageSucceedsOnSecondAttempt(t *testing.T) {
	media := &fakeMedia{format: "png_pipe", sizes: []int64{9 * mib, 7 * mib}}
	h := newHarness(t, media, true)
	input := h.input(t, "photo.png", 10*mib)

	result, err := h.engine.Convert(context.Background(), input)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Extension != "webp" || result.Size != 7*mib || result.MediaType != ffprobe.Image {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Passthrough {
		t.Fatal("expected a re-encode")
	}
	if len(result.Attempts) != 2 || result.Attempts[1].Quality != 85 {
		t.Fatalf("unexpected attempts %+v", result.Attempts)
	}
	files := h.workspaceFiles(t)
	if len(files) != 1 || files[0] != result.Path {
		t.Fatalf("expected only the artifact to remain, got %v", files)
	}

	call := h.runner.CallsTo("ffmpeg")[0]
	want := []string{
		"-y", "-i", input, "-vf", "fps=30", "-vcodec", "libwebp", "-lossless", "1",
		"-compression_level", "6", "-loop", "0", "-preset", "picture", "-an",
		"-vsync", "vfr", "-f", "webp", "-q:v", "90", call.LastArg(),
	}
	if strings.Join(call.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected image args\n got: %v\nwant: %v", call.Args, want)
	}
	if filepath.Dir(call.LastArg()) != h.ws.Root() {
		t.Fatalf("output %q outside workspace", call.LastArg())
	}
}

func TestConvertImageAtCeilingFits(t *testing.T) {
	media := &fakeMedia{format: "gif", sizes: []int64{compress.Ceiling}}
	h := newHarness(t, media, true)

	result, err := h.engine.Convert(context.Background(), h.input(t, "anim.gif", 20*mib))
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Size != compress.Ceiling {
		t.Fatalf("expected ceiling-sized artifact, got %d", result.Size)
	}
}

func TestConvertImagePassthrough(t *testing.T) {
	media := &fakeMedia{format: "jpeg_pipe"}
	h := newHarness(t, media, true)
	input := h.input(t, "small.jpg", 2*mib)

	result, err := h.engine.Convert(context.Background(), input)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !result.Passthrough || result.Extension != "jpg" || result.Size != 2*mib {
		t.Fatalf("unexpected passthrough result %+v", result)
	}
	if len(h.runner.CallsTo("ffmpeg")) != 0 {
		t.Fatal("expected no encoder runs for passthrough")
	}
	want, _ := os.ReadFile(input)
	got, err := os.ReadFile(result.Path)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("passthrough bytes differ (err=%v)", err)
	}
	if result.Path == input {
		t.Fatal("passthrough must hand back a workspace copy")
	}
}

func TestConvertImageAlwaysEncodesWhenSkipDisabled(t *testing.T) {
	media := &fakeMedia{format: "png_pipe", sizes: []int64{mib}}
	h := newHarness(t, media, false)

	result, err := h.engine.Convert(context.Background(), h.input(t, "tiny.png", 1024))
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Passthrough || result.Extension != "webp" {
		t.Fatalf("expected a webp re-encode, got %+v", result)
	}
}

func TestConvertVideoBitratePlan(t *testing.T) {
	media := &fakeMedia{format: "mov,mp4,m4a,3gp,3g2,mj2", streams: videoStreams(), sizes: []int64{8*mib + 1, 6 * mib}}
	h := newHarness(t, media, true)
	input := h.input(t, "clip.mp4", 25*mib)

	result, err := h.engine.Convert(context.Background(), input)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Extension != "mp4" || result.MediaType != ffprobe.Video || result.Size != 6*mib {
		t.Fatalf("unexpected result %+v", result)
	}

	calls := h.runner.CallsTo("ffmpeg")
	if len(calls) != 2 {
		t.Fatalf("expected 2 ffmpeg runs, got %d", len(calls))
	}
	want := []string{
		"-y", "-i", input, "-c:v", "libx265", "-preset", "medium", "-f", "mp4",
		"-vf", "fps=30", "-b:v", "5609k", calls[0].LastArg(),
	}
	if strings.Join(calls[0].Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected video args\n got: %v\nwant: %v", calls[0].Args, want)
	}
	if got := calls[1].ArgAfter("-b:v"); got != "4789k" {
		t.Fatalf("second attempt bitrate = %s, want 4789k", got)
	}
	if result.Attempts[0].TargetSize != 7*mib || result.Attempts[1].TargetSize != 6*mib {
		t.Fatalf("unexpected targets %+v", result.Attempts)
	}
	if !result.Attempts[0].FPSCapped {
		t.Fatal("expected fps cap when bitrate drops")
	}
	// Stream info is probed once for both attempts.
	if got := len(h.runner.CallsTo("ffprobe")); got != 4 {
		t.Fatalf("expected 1 classify + 3 stream probes, got %d", got)
	}
	if files := h.workspaceFiles(t); len(files) != 1 || files[0] != result.Path {
		t.Fatalf("expected only the artifact to remain, got %v", files)
	}
}

func TestConvertVideoNoFPSCapWhenBitrateUnchanged(t *testing.T) {
	streams := map[string]string{"v:0 duration": "10", "v:0 bit_rate": "1000000", "a:0 bit_rate": "128000"}
	media := &fakeMedia{format: "matroska,webm", streams: streams, sizes: []int64{2 * mib}}
	h := newHarness(t, media, false)

	if _, err := h.engine.Convert(context.Background(), h.input(t, "clip.mkv", 3*mib)); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	call := h.runner.CallsTo("ffmpeg")[0]
	if call.HasArg("-vf") {
		t.Fatalf("did not expect fps cap, args %v", call.Args)
	}
	if got := call.ArgAfter("-b:v"); got != "976k" {
		t.Fatalf("expected source bitrate 976k, got %s", got)
	}
}

func TestConvertVideoPassthroughAtFirstTarget(t *testing.T) {
	media := &fakeMedia{format: "mov,mp4,m4a,3gp,3g2,mj2"}
	h := newHarness(t, media, true)

	result, err := h.engine.Convert(context.Background(), h.input(t, "clip.mov", 7*mib))
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !result.Passthrough || result.Extension != "mov" {
		t.Fatalf("expected passthrough, got %+v", result)
	}
	if len(h.runner.CallsTo("ffprobe")) != 1 {
		t.Fatal("expected no stream probe for passthrough")
	}
}

func TestConvertVideoEncodeFailuresExhaustBudget(t *testing.T) {
	media := &fakeMedia{format: "mov,mp4,m4a,3gp,3g2,mj2", streams: videoStreams(), sizes: []int64{-1, -1}}
	h := newHarness(t, media, true)

	_, err := h.engine.Convert(context.Background(), h.input(t, "clip.mp4", 30*mib))
	if !errors.Is(err, compress.ErrRetryBudgetExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if !errors.Is(err, compress.ErrEncode) {
		t.Fatalf("expected last encode error in chain, got %v", err)
	}
	var encodeErr *compress.EncodeError
	if !errors.As(err, &encodeErr) || encodeErr.Stderr != "Error while opening encoder" || encodeErr.Attempt != 2 {
		t.Fatalf("expected stderr from last attempt, got %+v", encodeErr)
	}
	if compress.Kind(err) != "exhausted" {
		t.Fatalf("unexpected kind %q", compress.Kind(err))
	}
	if len(h.runner.CallsTo("ffmpeg")) != compress.VideoAttempts {
		t.Fatalf("expected %d encoder runs", compress.VideoAttempts)
	}
	if files := h.workspaceFiles(t); len(files) != 0 {
		t.Fatalf("expected empty workspace, got %v", files)
	}
}

func TestConvertVideoOversizeExhaustsBudget(t *testing.T) {
	media := &fakeMedia{format: "mov,mp4,m4a,3gp,3g2,mj2", streams: videoStreams(), sizes: []int64{9 * mib, 10 * mib}}
	h := newHarness(t, media, true)

	result, err := h.engine.Convert(context.Background(), h.input(t, "clip.mp4", 30*mib))
	if !errors.Is(err, compress.ErrRetryBudgetExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	var exhausted *compress.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Attempts != compress.VideoAttempts || exhausted.MediaType != ffprobe.Video {
		t.Fatalf("unexpected exhaustion %+v", exhausted)
	}
	if exhausted.LastSize != 10*mib || exhausted.Last != nil {
		t.Fatalf("expected last size 10 MiB with no encode error, got %+v", exhausted)
	}
	if len(result.Attempts) != compress.VideoAttempts {
		t.Fatalf("expected %d recorded attempts, got %d", compress.VideoAttempts, len(result.Attempts))
	}
	if len(h.runner.CallsTo("ffmpeg")) != compress.VideoAttempts {
		t.Fatalf("expected %d encoder runs", compress.VideoAttempts)
	}
	if files := h.workspaceFiles(t); len(files) != 0 {
		t.Fatalf("expected empty workspace, got %v", files)
	}
}

func TestConvertVideoUnreachableBudgetUsesFloor(t *testing.T) {
	streams := map[string]string{"v:0 duration": "3600", "v:0 bit_rate": "5000000", "a:0 bit_rate": "128000"}
	media := &fakeMedia{format: "matroska,webm", streams: streams, sizes: []int64{5 * mib}}
	h := newHarness(t, media, true)

	result, err := h.engine.Convert(context.Background(), h.input(t, "long.mkv", 30*mib))
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	calls := h.runner.CallsTo("ffmpeg")
	if len(calls) != 1 {
		t.Fatalf("expected 1 ffmpeg run, got %d", len(calls))
	}
	if got := calls[0].ArgAfter("-b:v"); got != "97k" {
		t.Fatalf("bitrate = %s, want the 97k floor", got)
	}
	if got := calls[0].ArgAfter("-vf"); got != "fps=30" {
		t.Fatalf("expected fps cap, got -vf %q", got)
	}
	if result.Attempts[0].VideoBitrate != 100000 || !result.Attempts[0].FPSCapped {
		t.Fatalf("unexpected attempt %+v", result.Attempts[0])
	}
}

func TestConvertLogsRejectedOutputCleanupFailure(t *testing.T) {
	media := &fakeMedia{format: "png_pipe"}
	h := newHarness(t, media, true)
	h.runner.Handle = func(call testsupport.RunnerCall) (procexec.Result, error) {
		if call.Tag != "ffmpeg" {
			return media.handle(call)
		}
		// A non-empty directory at the output path cannot be removed with
		// a plain unlink.
		out := call.LastArg()
		if err := os.MkdirAll(filepath.Join(out, "partial"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		return testsupport.Failed(1, "Error! Could not encode picture"), nil
	}

	_, err := h.engine.Convert(context.Background(), h.input(t, "still.png", 12*mib))
	if !errors.Is(err, compress.ErrRetryBudgetExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	logs := h.logs.String()
	if strings.Count(logs, "failed to remove rejected attempt output") != compress.ImageAttempts {
		t.Fatalf("expected one cleanup warning per attempt, got:\n%s", logs)
	}
	if !strings.Contains(logs, `"event_type":"cleanup_failed"`) {
		t.Fatalf("expected cleanup_failed event, got:\n%s", logs)
	}
}

func TestConvertEncodeFailureThenSuccess(t *testing.T) {
	media := &fakeMedia{format: "png_pipe", sizes: []int64{-1, 3 * mib}}
	h := newHarness(t, media, true)

	result, err := h.engine.Convert(context.Background(), h.input(t, "photo.png", 9*mib))
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !errors.Is(result.Attempts[0].Err, compress.ErrEncode) {
		t.Fatalf("expected first attempt encode error, got %v", result.Attempts[0].Err)
	}
	if result.Attempts[1].Quality != 85 {
		t.Fatalf("expected retry at quality 85, got %d", result.Attempts[1].Quality)
	}
}

func TestConvertUnknownTypeCreatesNothing(t *testing.T) {
	media := &fakeMedia{format: "wav"}
	h := newHarness(t, media, true)

	_, err := h.engine.Convert(context.Background(), h.input(t, "sound.wav", 9*mib))
	if !errors.Is(err, compress.ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
	if compress.UserMessage(err) != "Unsupported file type." {
		t.Fatalf("unexpected user message %q", compress.UserMessage(err))
	}
	if len(h.runner.CallsTo("ffmpeg")) != 0 {
		t.Fatal("expected no encoder runs")
	}
	if files := h.workspaceFiles(t); len(files) != 0 {
		t.Fatalf("expected no workspace files, got %v", files)
	}
}

func TestConvertUnprobeableIsUnsupported(t *testing.T) {
	media := &fakeMedia{}
	h := newHarness(t, media, true)

	_, err := h.engine.Convert(context.Background(), h.input(t, "garbage.bin", 100))
	if !errors.Is(err, compress.ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestConvertMissingInput(t *testing.T) {
	h := newHarness(t, &fakeMedia{}, true)

	_, err := h.engine.Convert(context.Background(), filepath.Join(t.TempDir(), "gone.png"))
	if !errors.Is(err, compress.ErrFilesystem) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected filesystem not-exist error, got %v", err)
	}
	if len(h.runner.Calls()) != 0 {
		t.Fatal("expected no tool runs for missing input")
	}
}

func TestConvertStreamProbeFailure(t *testing.T) {
	streams := map[string]string{"v:0 duration": "10", "v:0 bit_rate": "N/A", "a:0 bit_rate": "128000"}
	media := &fakeMedia{format: "mov,mp4,m4a,3gp,3g2,mj2", streams: streams}
	h := newHarness(t, media, true)

	_, err := h.engine.Convert(context.Background(), h.input(t, "clip.mp4", 20*mib))
	if !errors.Is(err, compress.ErrProbe) {
		t.Fatalf("expected ErrProbe, got %v", err)
	}
	if compress.Kind(err) != "probe" {
		t.Fatalf("unexpected kind %q", compress.Kind(err))
	}
	if len(h.runner.CallsTo("ffmpeg")) != 0 {
		t.Fatal("expected no encoder runs after probe failure")
	}
}

func TestConvertSpawnFailureIsNotRetried(t *testing.T) {
	media := &fakeMedia{format: "png_pipe"}
	h := newHarness(t, media, false)
	h.runner.Handle = func(call testsupport.RunnerCall) (procexec.Result, error) {
		if call.Tag == "ffmpeg" {
			return procexec.Result{}, procexec.ErrSpawn
		}
		return media.handle(call)
	}

	_, err := h.engine.Convert(context.Background(), h.input(t, "photo.png", 9*mib))
	if !errors.Is(err, procexec.ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if compress.Kind(err) != "tool_missing" {
		t.Fatalf("unexpected kind %q", compress.Kind(err))
	}
	if len(h.runner.CallsTo("ffmpeg")) != 1 {
		t.Fatal("expected a single encoder run")
	}
}

func TestConvertCancelledContext(t *testing.T) {
	media := &fakeMedia{format: "png_pipe"}
	h := newHarness(t, media, false)
	input := h.input(t, "photo.png", 9*mib)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Convert(ctx, input)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
