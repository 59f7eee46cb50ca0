package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"squish/internal/logging"
)

const (
	// Prefix starts every file name the workspace hands out.
	Prefix = "squish-"
	// LockName is the flock file kept at the workspace root.
	LockName = ".squish.lock"

	lockRetryDelay = 50 * time.Millisecond
)

// ErrBusy is returned by CleanStale when a conversion holds the workspace.
var ErrBusy = errors.New("workspace busy")

// Workspace is a directory of uniquely named temporary media files.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// New prepares root for use, creating it when missing.
func New(root string, logger *slog.Logger) (*Workspace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("workspace root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", root, err)
	}
	return &Workspace{root: root, logger: logging.NewComponentLogger(logger, "workspace")}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path returns a fresh, unused file path with the given extension. The file
// is not created.
func (w *Workspace) Path(ext string) string {
	name := Prefix + uuid.NewString()
	if ext = strings.TrimPrefix(strings.TrimSpace(ext), "."); ext != "" {
		name += "." + ext
	}
	return filepath.Join(w.root, name)
}

// Track starts a Tracker for one conversion.
func (w *Workspace) Track() *Tracker {
	return &Tracker{ws: w}
}

// Shared takes a shared lock on the workspace, waiting for any running
// cleanup to finish. The returned function releases it.
func (w *Workspace) Shared(ctx context.Context) (func(), error) {
	lock := flock.New(w.lockPath())
	ok, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock workspace: %w", ErrBusy)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			w.logger.Warn("failed to release workspace lock", logging.Error(err))
		}
	}, nil
}

func (w *Workspace) lockPath() string {
	return filepath.Join(w.root, LockName)
}

// Tracker records files created by a single conversion.
type Tracker struct {
	ws    *Workspace
	paths []string
}

// Path allocates and records a workspace path.
func (t *Tracker) Path(ext string) string {
	path := t.ws.Path(ext)
	t.paths = append(t.paths, path)
	return path
}

// Paths returns every recorded path in allocation order.
func (t *Tracker) Paths() []string {
	return append([]string(nil), t.paths...)
}

// Discard removes one recorded file immediately, for example a failed
// attempt's output. The path stays tracked so Release still covers it.
func (t *Tracker) Discard(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Release removes every recorded file except keep. Files that were never
// created are ignored. All removal errors are returned joined.
func (t *Tracker) Release(keep string) error {
	var errs []error
	for _, path := range t.paths {
		if keep != "" && path == keep {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	t.paths = nil
	if keep != "" {
		t.paths = append(t.paths, keep)
	}
	return errors.Join(errs...)
}
