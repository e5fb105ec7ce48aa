package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateImage(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateImage() error {
	q := c.Image.Quality
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return fmt.Errorf("image.quality must be in (0, 1], got %v", q)
	}
	return nil
}

func (c *Config) validateVideo() error {
	switch c.Video.Target {
	case "mp4":
		return nil
	default:
		return fmt.Errorf("video.target %q is not supported (use \"mp4\")", c.Video.Target)
	}
}

func (c *Config) validateBatch() error {
	if c.Batch.Jobs < 1 || c.Batch.Jobs > maxBatchJobs {
		return fmt.Errorf("batch.jobs must be between 1 and %d", maxBatchJobs)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use \"console\" or \"json\")", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
