package preflight

import (
	"context"

	"kloak/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Blocking reports whether a failed result should stop a run.
func (r Result) Blocking() bool {
	return !r.Passed && !r.Optional
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckPrivateDirectory("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	results = append(results, CheckFFmpeg(ctx, cfg.FFmpeg.Binary))
	return results
}

// FirstBlocking returns the first failed mandatory check, if any.
func FirstBlocking(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Blocking() {
			return r, true
		}
	}
	return Result{}, false
}
