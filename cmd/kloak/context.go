package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"kloak/internal/config"
	"kloak/internal/deps"
	"kloak/internal/ledger"
	"kloak/internal/logging"
	"kloak/internal/media/ffmpeg"
	"kloak/internal/scratch"
	"kloak/internal/stripper"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	scratch *scratch.Dir
	ledger  *ledger.Store
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if c.verbose != nil && *c.verbose {
			cfg.Logging.Level = "debug"
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// loggerValue builds the CLI logger on first use and prunes old log files.
// Logger setup failures fall back to a stderr-only logger.
func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: cfg.Logging.Level})
			if logger == nil {
				logger = logging.NewNop()
			}
		}
		c.logger = logger
		logging.PruneLogs(logger, logging.Retention{
			Dir:     cfg.Paths.LogDir,
			Pattern: config.LogPattern,
			Days:    cfg.Logging.RetentionDays,
			Keep:    []string{cfg.LogPath()},
		})
	})
	return c.logger
}

func (c *commandContext) openLedger() (*ledger.Store, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	c.ledger = store
	return store, nil
}

// newStripper opens the scratch directory and wires the ffmpeg frame
// decoder when the binary is on PATH.
func (c *commandContext) newStripper(quality float64) (*stripper.Stripper, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.loggerValue()
	if c.scratch == nil {
		dir, err := scratch.Open(cfg.Paths.ScratchDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open scratch directory: %w", err)
		}
		c.scratch = dir
	}

	var decoder stripper.FrameDecoder
	if status := deps.CheckBinaries([]deps.Requirement{deps.FFmpegRequirement(cfg.FFmpeg.Binary)})[0]; status.Available {
		decoder = ffmpeg.NewDecoder(status.Command, c.scratch)
	} else {
		logger.Debug("heic decoding unavailable", logging.String("detail", status.Detail))
	}
	if quality == 0 {
		quality = cfg.Image.Quality
	}
	return stripper.New(stripper.Options{
		Scratch: c.scratch,
		Decoder: decoder,
		Quality: quality,
		Logger:  logger,
	})
}

func (c *commandContext) close() {
	if c.scratch != nil {
		_ = c.scratch.Close()
		c.scratch = nil
	}
	if c.ledger != nil {
		_ = c.ledger.Close()
		c.ledger = nil
	}
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
