package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"kloak/internal/logging"
)

// LockName is the lock file kept at the root of every scratch directory.
const LockName = ".kloak.lock"

// Dir is an open scratch directory. Files created through it are owned by the
// caller until Release.
type Dir struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.Mutex
	live   map[string]struct{}
	closed bool
}

// Open prepares path for scratch use. Stale files left by crashed processes
// are swept first, then a shared lock is held until Close.
func Open(path string, logger *slog.Logger) (*Dir, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("scratch: empty directory path")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("scratch: ensure directory: %w", err)
	}

	if removed, err := Sweep(path); err != nil {
		logger.Warn("scratch sweep failed",
			logging.String("dir", path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "scratch_sweep_failed"),
			logging.String(logging.FieldErrorHint, "check permissions on the scratch directory"),
		)
	} else if removed > 0 {
		logger.Info("removed stale scratch files",
			logging.String("dir", path),
			logging.Int("removed", removed),
			logging.String(logging.FieldEventType, "scratch_swept"),
		)
	}

	lock := flock.New(filepath.Join(path, LockName))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("scratch: acquire shared lock: %w", err)
	}
	return &Dir{
		path:   path,
		lock:   lock,
		logger: logger,
		live:   make(map[string]struct{}),
	}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Create opens a new exclusive scratch file named <uuid>.<ext>.
func (d *Dir) Create(ext string) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("scratch: directory closed")
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "tmp"
	}
	name := filepath.Join(d.path, uuid.NewString()+"."+ext)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("scratch: create file: %w", err)
	}
	d.live[name] = struct{}{}
	return f, nil
}

// Release removes a scratch file. Releasing a file twice or one that was
// already removed is not an error.
func (d *Dir) Release(path string) error {
	d.mu.Lock()
	delete(d.live, path)
	d.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("scratch: release %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Live returns the number of files created and not yet released.
func (d *Dir) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Close releases any files still live and drops the shared lock.
func (d *Dir) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	leftovers := make([]string, 0, len(d.live))
	for name := range d.live {
		leftovers = append(leftovers, name)
	}
	d.live = map[string]struct{}{}
	d.mu.Unlock()

	var errs []error
	for _, name := range leftovers {
		d.logger.Warn("releasing leaked scratch file",
			logging.String("file", filepath.Base(name)),
			logging.String(logging.FieldEventType, "scratch_leak"),
			logging.String(logging.FieldErrorHint, "a strip operation returned without releasing its scratch file"),
		)
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := d.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("scratch: release lock: %w", err))
	}
	return errors.Join(errs...)
}

// Sweep removes every scratch file in path when no process holds the
// directory lock. It returns the number of files removed, or zero when the
// directory is in use.
func Sweep(path string) (int, error) {
	lock := flock.New(filepath.Join(path, LockName))
	ok, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("scratch: acquire sweep lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		_ = lock.Unlock()
	}()

	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("scratch: list directory: %w", err)
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == LockName {
			continue
		}
		if err := os.Remove(filepath.Join(path, entry.Name())); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Files lists the scratch files currently present in path, excluding the
// lock file.
func Files(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == LockName {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
