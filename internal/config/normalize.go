package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeMedia()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		if value, ok := os.LookupEnv("SQUISH_TEMP_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.TempDir = strings.TrimSpace(value)
		} else {
			c.Paths.TempDir = defaultTempDir
		}
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = binaryOrDefault(c.Tools.FFmpeg, defaultFFmpegBinary)
	c.Tools.FFprobe = binaryOrDefault(c.Tools.FFprobe, defaultFFprobeBinary)
	c.Tools.Img2WebP = binaryOrDefault(c.Tools.Img2WebP, defaultImg2WebPBinary)
	c.Tools.Gif2WebP = binaryOrDefault(c.Tools.Gif2WebP, defaultGif2WebPBinary)
	c.Tools.Cjxl = binaryOrDefault(c.Tools.Cjxl, defaultCjxlBinary)
	c.Tools.Webpmux = binaryOrDefault(c.Tools.Webpmux, defaultWebpmuxBinary)
}

func (c *Config) normalizeMedia() {
	if c.Media.StaleTempMinutes <= 0 {
		c.Media.StaleTempMinutes = defaultStaleMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func binaryOrDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
