package config

const (
	defaultTempDir         = "~/.cache/squish/tmp"
	defaultDataDir         = "~/.local/share/squish"
	defaultLogDir          = "~/.local/share/squish/logs"
	defaultFFmpegBinary    = "ffmpeg"
	defaultFFprobeBinary   = "ffprobe"
	defaultImg2WebPBinary  = "img2webp"
	defaultGif2WebPBinary  = "gif2webp"
	defaultCjxlBinary      = "cjxl"
	defaultWebpmuxBinary   = "webpmux"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultSkipSmallInputs = true
	defaultHistoryEnabled  = true
	defaultStaleMinutes    = 60
	defaultRetentionDays   = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		// TempDir stays empty so normalize can honour SQUISH_TEMP_DIR.
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Tools: Tools{
			FFmpeg:   defaultFFmpegBinary,
			FFprobe:  defaultFFprobeBinary,
			Img2WebP: defaultImg2WebPBinary,
			Gif2WebP: defaultGif2WebPBinary,
			Cjxl:     defaultCjxlBinary,
			Webpmux:  defaultWebpmuxBinary,
		},
		Media: Media{
			SkipSmallInputs:  defaultSkipSmallInputs,
			StaleTempMinutes: defaultStaleMinutes,
		},
		History: History{
			Enabled: defaultHistoryEnabled,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
