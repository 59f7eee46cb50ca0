package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"squish/internal/logging"
)

// ErrSpawn marks failures to start the external process (binary missing,
// permission denied, bad working directory).
var ErrSpawn = errors.New("spawn process")

// Result captures the outcome of a finished process.
type Result struct {
	ExitSuccess bool
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

// StderrText returns stderr with surrounding whitespace trimmed.
func (r Result) StderrText() string {
	return strings.TrimSpace(string(r.Stderr))
}

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, tag, binary string, args []string) (Result, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	logger *slog.Logger
}

// New constructs an Exec runner. A nil logger discards tool output lines.
func New(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Exec{logger: logger}
}

// Run starts binary with args and waits for it to exit. Both output streams
// are drained by their own goroutine and joined before Run returns.
func (e *Exec) Run(ctx context.Context, tag, binary string, args []string) (Result, error) {
	if strings.TrimSpace(tag) == "" {
		tag = binary
	}
	logger := e.logger.With(logging.String(logging.FieldTool, tag))
	logger.Debug("running command", logging.String("command", CommandLine(binary, args)))

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stderr pipe: %w", ErrSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w %s: %w", ErrSpawn, binary, err)
	}

	// A killed child can leave grandchildren holding the pipes open.
	stop := context.AfterFunc(ctx, func() {
		_ = stdout.Close()
		_ = stderr.Close()
	})
	defer stop()

	var (
		wg         sync.WaitGroup
		outBuf     bytes.Buffer
		errBuf     bytes.Buffer
		copyErr    error
		copyErrMux sync.Mutex
	)
	drain := func(r io.Reader, buf *bytes.Buffer, stream string) {
		defer wg.Done()
		lines := &lineLogger{logger: logger, stream: stream}
		if _, err := io.Copy(io.MultiWriter(buf, lines), r); err != nil {
			copyErrMux.Lock()
			if copyErr == nil {
				copyErr = fmt.Errorf("read %s: %w", stream, err)
			}
			copyErrMux.Unlock()
		}
		lines.flush()
	}

	wg.Add(2)
	go drain(stdout, &outBuf, "stdout")
	go drain(stderr, &errBuf, "stderr")
	wg.Wait()

	waitErr := cmd.Wait()
	result := Result{
		Stdout: outBuf.Bytes(),
		Stderr: errBuf.Bytes(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if copyErr != nil {
		return result, copyErr
	}

	result.ExitCode = cmd.ProcessState.ExitCode()
	result.ExitSuccess = result.ExitCode == 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("wait %s: %w", binary, waitErr)
		}
	}
	logger.Debug("command finished",
		logging.Int("exit_code", result.ExitCode),
		logging.Int("stdout_bytes", len(result.Stdout)),
		logging.Int("stderr_bytes", len(result.Stderr)),
	)
	return result, nil
}

// CommandLine renders an invocation for logs and error messages. Arguments
// containing whitespace are quoted.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(binary))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return `""`
	}
	if strings.ContainsAny(arg, " \t\n\"'") {
		return fmt.Sprintf("%q", arg)
	}
	return arg
}

// lineLogger splits a byte stream into lines (on \n or \r, since encoders
// redraw progress with carriage returns) and logs each non-empty one.
type lineLogger struct {
	logger  *slog.Logger
	stream  string
	pending []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			l.emit()
			continue
		}
		l.pending = append(l.pending, b)
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.emit()
}

func (l *lineLogger) emit() {
	if len(l.pending) == 0 {
		return
	}
	line := strings.TrimSpace(string(l.pending))
	l.pending = l.pending[:0]
	if line == "" {
		return
	}
	l.logger.Debug(line, logging.String(logging.FieldStream, l.stream))
}
