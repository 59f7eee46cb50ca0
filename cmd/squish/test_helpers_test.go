package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"squish/internal/config"
	"squish/internal/procexec"
	"squish/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	inputDir   string
	runner     *testsupport.FakeRunner
	media      *cliMedia
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "squish.toml")
	writeTestConfig(t, configPath, cfg)

	media := &cliMedia{formats: map[string]string{}, sizes: map[string]int64{}}
	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		inputDir:   filepath.Join(base, "inputs"),
		runner:     &testsupport.FakeRunner{Handle: media.handle},
		media:      media,
	}
}

func (e *cliTestEnv) input(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(e.inputDir, name)
	testsupport.WriteFile(t, path, size)
	return path
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath, withRunner(e.runner))
}

func runCLI(t *testing.T, args []string, configPath string, opts ...rootOption) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(opts...)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
temp_dir = %q
data_dir = %q
log_dir = %q

[tools]
ffmpeg = %q
ffprobe = %q
img2webp = %q
gif2webp = %q
cjxl = %q
webpmux = %q

[media]
skip_small_inputs = %t
stale_temp_minutes = 60

[history]
enabled = %t

[logging]
format = "console"
level = "error"
retention_days = 14
`,
		cfg.Paths.TempDir, cfg.Paths.DataDir, cfg.Paths.LogDir,
		cfg.Tools.FFmpeg, cfg.Tools.FFprobe, cfg.Tools.Img2WebP, cfg.Tools.Gif2WebP, cfg.Tools.Cjxl, cfg.Tools.Webpmux,
		cfg.Media.SkipSmallInputs, cfg.History.Enabled,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// cliMedia answers ffprobe by input base name and makes every encoder write
// an output of the size registered for the output extension. It runs on
// errgroup goroutines, so it reports problems as failed runs instead of
// calling t.Fatal.
type cliMedia struct {
	mu      sync.Mutex
	formats map[string]string
	sizes   map[string]int64
	encodes int
}

func (m *cliMedia) setFormat(name, format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formats[name] = format
}

func (m *cliMedia) setSize(ext string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[ext] = size
}

func (m *cliMedia) encodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encodes
}

func (m *cliMedia) handle(call testsupport.RunnerCall) (procexec.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call.Tag == "ffprobe" {
		format, ok := m.formats[filepath.Base(call.LastArg())]
		if !ok {
			return testsupport.Failed(1, "Invalid data found when processing input"), nil
		}
		if call.HasArg("json") {
			return testsupport.Succeeded(fmt.Sprintf(`{"streams":[{"index":0,"codec_type":"video","codec_name":"png","width":64,"height":64}],"format":{"format_name":%q,"size":"2048","duration":"0.04","bit_rate":"409600"}}`, format)), nil
		}
		return testsupport.Succeeded(format + "\n"), nil
	}

	if call.HasArg("-encoders") {
		return testsupport.Succeeded(" V....D libwebp              libwebp WebP image\n V....D libx265              libx265 H.265 / HEVC\n"), nil
	}

	out := call.LastArg()
	ext := strings.TrimPrefix(filepath.Ext(out), ".")
	size, ok := m.sizes[ext]
	if !ok {
		size = 1024
	}
	m.encodes++
	if size < 0 {
		return testsupport.Failed(1, "Conversion failed!"), nil
	}
	if err := os.WriteFile(out, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		return testsupport.Failed(1, err.Error()), nil
	}
	return testsupport.Succeeded(""), nil
}
