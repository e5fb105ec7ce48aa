package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists strip history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the ledger at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy repeats op with exponential backoff while SQLite reports a
// locked database. Batch workers write concurrently.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

const entryColumns = `id, run_id, source_name, source_hash, source_bytes, source_kind, strategy,
    outcome, error_kind, output_path, output_hash, output_bytes, removed_items, duration_ms, created_at`

// Record inserts e and assigns its ID. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return errors.New("entry is nil")
	}
	if strings.TrimSpace(e.RunID) == "" || strings.TrimSpace(e.SourceHash) == "" {
		return errors.New("entry requires run id and source hash")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO strips (
                run_id, source_name, source_hash, source_bytes, source_kind, strategy,
                outcome, error_kind, output_path, output_hash, output_bytes,
                removed_items, duration_ms, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RunID,
			filepath.Base(e.SourceName),
			e.SourceHash,
			e.SourceBytes,
			e.SourceKind,
			nullableString(e.Strategy),
			string(e.Outcome),
			nullableString(string(e.ErrorKind)),
			nullableString(e.OutputPath),
			nullableString(e.OutputHash),
			nullableInt(e.OutputBytes),
			e.RemovedItems,
			e.Duration.Milliseconds(),
			e.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		e.ID = id
		return nil
	})
}

// Recent returns the newest entries, newest first. A limit of zero or less
// returns every entry.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM strips ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// ByRun returns the entries of one run in insertion order.
func (s *Store) ByRun(ctx context.Context, runID string) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM strips WHERE run_id = ? ORDER BY id`, runID)
}

// CompletedByHash returns the most recent completed entry for a source hash.
// It returns nil when the source has never been stripped.
func (s *Store) CompletedByHash(ctx context.Context, hash string) (*Entry, error) {
	entries, err := s.query(ctx,
		`SELECT `+entryColumns+` FROM strips WHERE source_hash = ? AND outcome = ? ORDER BY id DESC LIMIT 1`,
		hash, string(OutcomeCompleted))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// Runs summarizes the newest runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, MIN(created_at), COUNT(1),
            SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END)
         FROM strips GROUP BY run_id ORDER BY MIN(created_at) DESC LIMIT ?`,
		string(OutcomeCompleted), string(OutcomeFailed), string(OutcomeCancelled), string(OutcomeSkipped), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run     RunSummary
			started string
		)
		if err := rows.Scan(&run.RunID, &started, &run.Total, &run.Completed, &run.Failed, &run.Cancelled, &run.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Started = parseTime(started)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneBefore deletes entries created before cutoff and returns the count.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM strips WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("prune entries: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Count returns the number of entries in the ledger.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM strips`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
