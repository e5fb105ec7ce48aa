package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Retention describes which log files PruneLogs may remove.
type Retention struct {
	Dir     string
	Pattern string
	Days    int
	// Keep lists files that are never removed, typically the active log.
	Keep []string
	// Now overrides the clock for tests.
	Now func() time.Time
}

// PruneLogs removes files in r.Dir matching r.Pattern whose modification
// time is older than r.Days. Days of zero disables pruning. It returns the
// number of files removed.
func PruneLogs(logger *slog.Logger, r Retention) int {
	dir := strings.TrimSpace(r.Dir)
	if r.Days <= 0 || dir == "" {
		return 0
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().AddDate(0, 0, -r.Days)

	keep := make(map[string]struct{}, len(r.Keep))
	for _, path := range r.Keep {
		if abs, err := filepath.Abs(strings.TrimSpace(path)); err == nil {
			keep[abs] = struct{}{}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pat := strings.TrimSpace(r.Pattern); pat != "" {
			if ok, err := filepath.Match(pat, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path := filepath.Join(dir, entry.Name())
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, skip := keep[path]; skip {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log prune failed", "log_prune_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Debug("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
