package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"squish/internal/logging"
)

// CleanStaleResult contains the outcome of a stale file cleanup.
type CleanStaleResult struct {
	Removed []string
	Freed   int64
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// FileInfo describes one workspace file.
type FileInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// List returns the workspace files squish created, oldest first.
func (w *Workspace) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(w.root, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	slices.SortFunc(files, func(a, b FileInfo) int {
		return a.ModTime.Compare(b.ModTime)
	})
	return files, nil
}

// CleanStale removes workspace files whose modification time is older than
// maxAge. It needs the exclusive workspace lock and returns ErrBusy when a
// conversion is running.
func (w *Workspace) CleanStale(ctx context.Context, maxAge time.Duration) (CleanStaleResult, error) {
	result := CleanStaleResult{}

	lock := flock.New(w.lockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return result, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return result, ErrBusy
	}
	defer func() {
		_ = lock.Unlock()
	}()

	files, err := w.List()
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: w.root, Error: err})
		return result, nil
	}

	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !file.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(file.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: file.Path, Error: err})
			logging.WarnWithContext(w.logger, "failed to remove stale workspace file", "workspace_cleanup_failed",
				logging.String("path", file.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check temp_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, file.Path)
		result.Freed += file.Size
		w.logger.Info("removed stale workspace file",
			logging.String("path", file.Path),
			logging.Duration("age", time.Since(file.ModTime)),
			logging.String(logging.FieldEventType, "workspace_cleanup"),
		)
	}
	return result, nil
}
