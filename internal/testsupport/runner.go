package testsupport

import (
	"context"
	"os"
	"sync"
	"testing"

	"squish/internal/procexec"
)

// RunnerCall records one invocation seen by FakeRunner.
type RunnerCall struct {
	Tag    string
	Binary string
	Args   []string
}

// LastArg returns the final argument, which is the output path for every
// encoder invocation squish builds.
func (c RunnerCall) LastArg() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// ArgAfter returns the argument following flag, or "" when absent.
func (c RunnerCall) ArgAfter(flag string) string {
	for i := 0; i < len(c.Args)-1; i++ {
		if c.Args[i] == flag {
			return c.Args[i+1]
		}
	}
	return ""
}

// HasArg reports whether value appears anywhere in the argument list.
func (c RunnerCall) HasArg(value string) bool {
	for _, arg := range c.Args {
		if arg == value {
			return true
		}
	}
	return false
}

// FakeRunner is a procexec.Runner that never spawns anything. Handle decides
// the outcome of each call; a nil Handle reports success with empty output.
type FakeRunner struct {
	Handle func(call RunnerCall) (procexec.Result, error)

	mu    sync.Mutex
	calls []RunnerCall
}

// Run implements procexec.Runner.
func (f *FakeRunner) Run(ctx context.Context, tag, binary string, args []string) (procexec.Result, error) {
	if err := ctx.Err(); err != nil {
		return procexec.Result{}, err
	}
	call := RunnerCall{Tag: tag, Binary: binary, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.Handle == nil {
		return Succeeded(""), nil
	}
	return f.Handle(call)
}

// Calls returns a copy of every recorded invocation.
func (f *FakeRunner) Calls() []RunnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunnerCall(nil), f.calls...)
}

// CallsTo returns the recorded invocations with the given tag.
func (f *FakeRunner) CallsTo(tag string) []RunnerCall {
	var out []RunnerCall
	for _, call := range f.Calls() {
		if call.Tag == tag {
			out = append(out, call)
		}
	}
	return out
}

// Succeeded builds a zero-exit result with the given stdout.
func Succeeded(stdout string) procexec.Result {
	return procexec.Result{ExitSuccess: true, Stdout: []byte(stdout)}
}

// Failed builds a non-zero exit result carrying stderr.
func Failed(code int, stderr string) procexec.Result {
	return procexec.Result{ExitCode: code, Stderr: []byte(stderr)}
}

// WriteOutput creates the call's output file (its last argument) with size
// bytes, simulating an encoder that produced a file.
func WriteOutput(t testing.TB, call RunnerCall, size int64) {
	t.Helper()
	path := call.LastArg()
	if path == "" {
		t.Fatalf("call %s has no output argument", call.Tag)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			t.Fatalf("remove previous output %s: %v", path, err)
		}
	}
	WriteFile(t, path, size)
}
