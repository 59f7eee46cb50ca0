// Package deps reports whether the external tools and directories squish
// needs are usable on this host.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"squish/internal/config"
)

// Requirement defines an external dependency squish relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries configured in cfg. ffmpeg and ffprobe are
// required for compression; the remaining tools only back the convert
// commands.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.Tools.FFmpeg, Description: "Encodes WebP images and H.265 video"},
		{Name: "FFprobe", Command: cfg.Tools.FFprobe, Description: "Classifies inputs and reads stream bitrates"},
		{Name: "img2webp", Command: cfg.Tools.Img2WebP, Description: "Lossless WebP conversion of stills", Optional: true},
		{Name: "gif2webp", Command: cfg.Tools.Gif2WebP, Description: "Animated WebP conversion of GIFs", Optional: true},
		{Name: "cjxl", Command: cfg.Tools.Cjxl, Description: "JPEG XL conversion", Optional: true},
		{Name: "webpmux", Command: cfg.Tools.Webpmux, Description: "Assembles favorite-ready animated WebPs", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckDirectoryAccess reports whether path exists as a directory the
// current user can read, write, and enter.
func CheckDirectoryAccess(name, path string) Status {
	status := Status{Name: name, Command: path}
	path = strings.TrimSpace(path)
	if path == "" {
		status.Detail = "path not configured"
		return status
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			status.Detail = "does not exist (created on first use)"
			status.Optional = true
			return status
		}
		status.Detail = err.Error()
		return status
	}
	if !info.IsDir() {
		status.Detail = "not a directory"
		return status
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		status.Detail = fmt.Sprintf("not writable: %v", err)
		return status
	}
	status.Available = true
	return status
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
