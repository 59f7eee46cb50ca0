package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"squish/internal/compress"
	"squish/internal/config"
	"squish/internal/convert"
	"squish/internal/history"
	"squish/internal/logging"
	"squish/internal/media/ffprobe"
	"squish/internal/procexec"
	"squish/internal/workspace"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	runner procexec.Runner
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if level := c.logLevel(); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// services bundles what a conversion command needs.
type services struct {
	cfg    *config.Config
	logger *slog.Logger
	ws     *workspace.Workspace
	runner procexec.Runner
	prober *ffprobe.Prober
}

func (c *commandContext) services() (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(cfg.Paths.TempDir, logger)
	if err != nil {
		return nil, err
	}
	runner := c.runner
	if runner == nil {
		runner = procexec.New(logger)
	}
	return &services{
		cfg:    cfg,
		logger: logger,
		ws:     ws,
		runner: runner,
		prober: ffprobe.NewProber(cfg.Tools.FFprobe, runner, logger),
	}, nil
}

func (s *services) engine() (*compress.Engine, error) {
	return compress.New(compress.Options{
		Workspace:       s.ws,
		Runner:          s.runner,
		Prober:          s.prober,
		FFmpeg:          s.cfg.Tools.FFmpeg,
		SkipSmallInputs: s.cfg.Media.SkipSmallInputs,
		Logger:          s.logger,
	})
}

func (s *services) converter() *convert.Converter {
	return convert.New(s.ws, s.runner, convert.Tools{
		FFmpeg:   s.cfg.Tools.FFmpeg,
		Img2WebP: s.cfg.Tools.Img2WebP,
		Gif2WebP: s.cfg.Tools.Gif2WebP,
		Cjxl:     s.cfg.Tools.Cjxl,
		Webpmux:  s.cfg.Tools.Webpmux,
	}, s.logger)
}

// openHistory returns nil when history is disabled. A store that fails to
// open is logged and treated as disabled so conversions still run.
func (s *services) openHistory() *history.Store {
	if !s.cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(s.cfg)
	if err != nil {
		logging.WarnWithContext(s.logger, "history unavailable; conversions will not be recorded", "history_open_failed",
			logging.Error(err),
			logging.String("path", s.cfg.HistoryPath()),
			logging.String(logging.FieldErrorHint, "run `squish status` or remove the database to recreate it"),
		)
		return nil
	}
	return store
}

// record stores entry when history is enabled. Failures are logged only.
func (s *services) record(ctx context.Context, store *history.Store, entry history.Entry) {
	if store == nil {
		return
	}
	if _, err := store.Record(ctx, entry); err != nil {
		logging.WarnWithContext(s.logger, "history record failed", "history_record_failed",
			logging.Error(err),
			logging.String("source", entry.Source),
			logging.String(logging.FieldImpact, "conversion missing from `squish history`"),
		)
	}
}

// requestContext tags ctx with a fresh correlation id for one input.
func requestContext(ctx context.Context) context.Context {
	return logging.WithRequestID(ctx, uuid.NewString())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
