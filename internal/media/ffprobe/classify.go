package ffprobe

import "strings"

// MediaType is the coarse category of an input file.
type MediaType int

const (
	Unknown MediaType = iota
	Image
	Video
)

func (m MediaType) String() string {
	switch m {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

var (
	imageTokens = []string{"jpeg", "jpg", "png", "bmp", "gif", "tiff", "webp", "jxl", "heic", "heif", "avif", "svg"}
	videoTokens = []string{"mp4", "mkv", "mov", "avi", "flv", "wmv", "webm", "mpeg"}
)

// ClassifyFormat maps an ffprobe format_name (for example "mov,mp4,m4a,3gp,3g2,mj2"
// or "png_pipe") to a MediaType. Image tokens win over video tokens.
func ClassifyFormat(formatName string) MediaType {
	name := strings.ToLower(strings.TrimSpace(formatName))
	if name == "" {
		return Unknown
	}
	for _, token := range imageTokens {
		if strings.Contains(name, token) {
			return Image
		}
	}
	for _, token := range videoTokens {
		if strings.Contains(name, token) {
			return Video
		}
	}
	return Unknown
}
