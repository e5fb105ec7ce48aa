package testsupport

import (
	"path/filepath"
	"testing"

	"kloak/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config whose directories live under a unique temp
// directory. Directories are not created; call EnsureDirectories when the
// test needs them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Batch.Jobs = 2

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithFFmpeg points the config at the given ffmpeg binary.
func WithFFmpeg(binary string) ConfigOption {
	return func(c *config.Config) {
		c.FFmpeg.Binary = binary
	}
}

// WithOverwrite toggles batch.overwrite.
func WithOverwrite(overwrite bool) ConfigOption {
	return func(c *config.Config) {
		c.Batch.Overwrite = overwrite
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
