package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"kloak/internal/media"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		strategy    sql.NullString
		outcome     string
		errorKind   sql.NullString
		outputPath  sql.NullString
		outputHash  sql.NullString
		outputBytes sql.NullInt64
		durationMS  int64
		createdAt   string
	)
	if err := row.Scan(
		&e.ID, &e.RunID, &e.SourceName, &e.SourceHash, &e.SourceBytes, &e.SourceKind, &strategy,
		&outcome, &errorKind, &outputPath, &outputHash, &outputBytes, &e.RemovedItems, &durationMS, &createdAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Strategy = strategy.String
	e.Outcome = Outcome(outcome)
	e.ErrorKind = media.ErrorKind(errorKind.String)
	e.OutputPath = outputPath.String
	e.OutputHash = outputHash.String
	e.OutputBytes = outputBytes.Int64
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
