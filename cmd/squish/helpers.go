package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"squish/internal/config"
	"squish/internal/fileutil"
	"squish/internal/textutil"
)

// placeMu serializes name selection so concurrent jobs never pick the same
// destination.
var placeMu sync.Mutex

// resolveInput expands and stats a user supplied input path.
func resolveInput(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("input path is required")
	}
	path, err := config.ExpandPath(arg)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("inspect path %q: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

// resolveOutputDir returns the directory an artifact for source goes to.
// An empty flag places it next to source.
func resolveOutputDir(flag, source string) (string, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return filepath.Dir(source), nil
	}
	dir, err := config.ExpandPath(flag)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %q: %w", dir, err)
	}
	return dir, nil
}

// artifactName derives "<stem>-<suffix>.<ext>" from source.
func artifactName(source, suffix, ext string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if suffix != "" {
		stem += "-" + suffix
	}
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		return stem + "." + ext
	}
	return stem
}

// placeArtifact moves a workspace file to dir/name, numbering the name when
// it is taken.
func placeArtifact(src, dir, name string) (string, error) {
	placeMu.Lock()
	defer placeMu.Unlock()

	dst := uniquePath(dir, textutil.SanitizeFileName(name, "squished"))
	if err := fileutil.MoveFile(src, dst); err != nil {
		return "", fmt.Errorf("move artifact: %w", err)
	}
	return dst, nil
}

func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
