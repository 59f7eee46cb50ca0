package workspace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"squish/internal/logging"
	"squish/internal/testsupport"
	"squish/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "tmp"), logging.NewNop())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return ws
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := workspace.New("  ", nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestPathIsUniqueAndPrefixed(t *testing.T) {
	ws := newWorkspace(t)
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		path := ws.Path(".webp")
		if filepath.Dir(path) != ws.Root() {
			t.Fatalf("path %q outside root %q", path, ws.Root())
		}
		name := filepath.Base(path)
		if !strings.HasPrefix(name, workspace.Prefix) || !strings.HasSuffix(name, ".webp") {
			t.Fatalf("unexpected name %q", name)
		}
		if strings.Contains(name, "..") {
			t.Fatalf("double dot in %q", name)
		}
		if _, dup := seen[path]; dup {
			t.Fatalf("duplicate path %q", path)
		}
		seen[path] = struct{}{}
	}
	if filepath.Ext(ws.Path("")) != "" {
		t.Fatal("expected no extension for empty ext")
	}
}

func TestTrackerReleaseKeepsOnlyArtifact(t *testing.T) {
	ws := newWorkspace(t)
	tracker := ws.Track()

	first := tracker.Path("webp")
	second := tracker.Path("webp")
	neverCreated := tracker.Path("webp")
	testsupport.WriteFile(t, first, 10)
	testsupport.WriteFile(t, second, 10)

	if err := tracker.Release(second); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", first)
	}
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("expected kept artifact: %v", err)
	}
	if _, err := os.Stat(neverCreated); !os.IsNotExist(err) {
		t.Fatalf("unexpected file %s", neverCreated)
	}
}

func TestTrackerReleaseWithoutKeepRemovesAll(t *testing.T) {
	ws := newWorkspace(t)
	tracker := ws.Track()
	for i := 0; i < 3; i++ {
		testsupport.WriteFile(t, tracker.Path("mp4"), 5)
	}
	if err := tracker.Release(""); err != nil {
		t.Fatalf("Release: %v", err)
	}
	files, err := ws.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected empty workspace, got %+v", files)
	}
}

func TestTrackerDiscard(t *testing.T) {
	ws := newWorkspace(t)
	tracker := ws.Track()
	path := tracker.Path("webp")
	testsupport.WriteFile(t, path, 1)

	if err := tracker.Discard(path); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := tracker.Discard(path); err != nil {
		t.Fatalf("second Discard should ignore missing file: %v", err)
	}
	if len(tracker.Paths()) != 1 {
		t.Fatalf("expected path to remain tracked")
	}
}

func TestCleanStaleRemovesOldFiles(t *testing.T) {
	ws := newWorkspace(t)
	oldFile := ws.Path("webp")
	recentFile := ws.Path("mp4")
	foreign := filepath.Join(ws.Root(), "keep-me.txt")
	testsupport.WriteFile(t, oldFile, 100)
	testsupport.WriteFile(t, recentFile, 100)
	testsupport.WriteFile(t, foreign, 100)
	for _, path := range []string{oldFile, foreign} {
		testsupport.Age(t, path, 2*time.Hour)
	}

	result, err := ws.CleanStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("CleanStale: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != oldFile {
		t.Fatalf("expected only %s removed, got %v", oldFile, result.Removed)
	}
	if result.Freed != 100 {
		t.Fatalf("expected 100 bytes freed, got %d", result.Freed)
	}
	for _, path := range []string{recentFile, foreign} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestCleanStaleBusyWhileConversionHoldsLock(t *testing.T) {
	ws := newWorkspace(t)
	release, err := ws.Shared(context.Background())
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}

	if _, err := ws.CleanStale(context.Background(), 0); !errors.Is(err, workspace.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	release()
	if _, err := ws.CleanStale(context.Background(), 0); err != nil {
		t.Fatalf("expected cleanup after release, got %v", err)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	ws := newWorkspace(t)
	first, err := ws.Shared(context.Background())
	if err != nil {
		t.Fatalf("first Shared: %v", err)
	}
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := ws.Shared(ctx)
	if err != nil {
		t.Fatalf("second Shared: %v", err)
	}
	second()
}

func TestListIgnoresLockAndForeignFiles(t *testing.T) {
	ws := newWorkspace(t)
	release, err := ws.Shared(context.Background())
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	defer release()
	testsupport.WriteFile(t, ws.Path("webp"), 3)
	testsupport.WriteFile(t, filepath.Join(ws.Root(), "other.bin"), 3)

	files, err := ws.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Size != 3 {
		t.Fatalf("unexpected listing %+v", files)
	}
}
