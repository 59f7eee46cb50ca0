package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"squish/internal/media/ffprobe"
	"squish/internal/procexec"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported file type")
	ErrProbe                = ffprobe.ErrProbe
	ErrEncode               = errors.New("encode failed")
	ErrRetryBudgetExhausted = errors.New("ran out of attempts")
	ErrFilesystem           = errors.New("filesystem error")
)

// wrap tags err with marker for classification while keeping the operation
// in the message.
func wrap(marker error, operation, message string, err error) error {
	detail := strings.TrimSpace(operation)
	if message = strings.TrimSpace(message); message != "" {
		if detail != "" {
			detail += ": "
		}
		detail += message
	}
	if detail == "" {
		detail = "conversion failure"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// EncodeError reports an encoder run that exited non-zero.
type EncodeError struct {
	Tool     string
	Attempt  int
	ExitCode int
	Stderr   string
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("%s attempt %d exited with status %d", e.Tool, e.Attempt, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + lastLines(e.Stderr, 5)
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return ErrEncode }

// ErrorKind implements the status classifier used by the CLI and history.
func (e *EncodeError) ErrorKind() string { return "encode" }

// ExhaustedError reports that every attempt failed to produce a file under
// the ceiling.
type ExhaustedError struct {
	MediaType ffprobe.MediaType
	Attempts  int
	LastSize  int64
	Ceiling   int64
	// Last is the final attempt's encode error, nil when the final attempt
	// produced an oversized file.
	Last error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ran out of attempts after %d %s encodes", e.Attempts, e.MediaType)
	if e.LastSize > 0 {
		fmt.Fprintf(&b, "; last output %s exceeds %s", humanize.IBytes(uint64(e.LastSize)), humanize.IBytes(uint64(e.Ceiling)))
	}
	if e.Last != nil {
		fmt.Fprintf(&b, "; %v", e.Last)
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last != nil {
		return []error{ErrRetryBudgetExhausted, e.Last}
	}
	return []error{ErrRetryBudgetExhausted}
}

func (e *ExhaustedError) ErrorKind() string { return "exhausted" }

// Kind classifies a Convert error for status reporting.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier interface{ ErrorKind() string }
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "unsupported"
	case errors.Is(err, ErrRetryBudgetExhausted):
		return "exhausted"
	case errors.Is(err, procexec.ErrSpawn):
		return "tool_missing"
	case errors.Is(err, ErrProbe):
		return "probe"
	case errors.Is(err, ErrFilesystem):
		return "filesystem"
	case errors.As(err, &classifier):
		return classifier.ErrorKind()
	case errors.Is(err, ErrEncode):
		return "encode"
	default:
		return "unknown"
	}
}

// UserMessage renders err for a chat reply. Tool output is fenced in a code
// block so it renders verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.LastSize > 0 {
			return fmt.Sprintf("Ran out of attempts: the last result was %s, over the %s limit.",
				humanize.IBytes(uint64(exhausted.LastSize)), humanize.IBytes(uint64(exhausted.Ceiling)))
		}
		return fmt.Sprintf("Ran out of attempts after %d tries.", exhausted.Attempts)
	}
	var encodeErr *EncodeError
	if errors.As(err, &encodeErr) {
		return codeBlock(encodeErr.Stderr)
	}
	switch Kind(err) {
	case "unsupported":
		return "Unsupported file type."
	case "probe":
		return codeBlock(err.Error())
	case "tool_missing":
		return "A required media tool is not installed."
	case "canceled":
		return "Conversion was cancelled."
	default:
		return err.Error()
	}
}

func codeBlock(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(no output)"
	}
	return "```\n" + text + "\n```"
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
