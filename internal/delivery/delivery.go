// Package delivery decides whether an artifact can be attached to a chat
// message or has to be shared as a link.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Decision is the delivery mode for an artifact.
type Decision int

const (
	Attach Decision = iota
	LinkOnly
)

func (d Decision) String() string {
	if d == Attach {
		return "attach"
	}
	return "link"
}

// ErrNoContentLength is returned when a remote resource does not report its
// size.
var ErrNoContentLength = errors.New("remote size unknown")

// HTTPDoer describes the HTTP client used for remote size checks.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Decide returns Attach when size fits within ceiling.
func Decide(size, ceiling int64) Decision {
	if size <= ceiling {
		return Attach
	}
	return LinkOnly
}

// DecideFile stats path and decides on its size.
func DecideFile(path string, ceiling int64) (Decision, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LinkOnly, 0, fmt.Errorf("stat artifact: %w", err)
	}
	return Decide(info.Size(), ceiling), info.Size(), nil
}

// RemoteSize issues a HEAD request and returns the Content-Length the server
// reports. A nil client uses http.DefaultClient.
func RemoteSize(ctx context.Context, client HTTPDoer, rawURL string) (int64, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return 0, errors.New("remote size: empty url")
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build head request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("head %s returned %d", rawURL, resp.StatusCode)
	}

	header := strings.TrimSpace(resp.Header.Get("Content-Length"))
	if header == "" {
		return 0, fmt.Errorf("head %s: %w", rawURL, ErrNoContentLength)
	}
	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("head %s: %w: content-length %q", rawURL, ErrNoContentLength, header)
	}
	return size, nil
}

// DecideRemote checks the remote size of rawURL against ceiling.
func DecideRemote(ctx context.Context, client HTTPDoer, rawURL string, ceiling int64) (Decision, int64, error) {
	size, err := RemoteSize(ctx, client, rawURL)
	if err != nil {
		return LinkOnly, 0, err
	}
	return Decide(size, ceiling), size, nil
}
