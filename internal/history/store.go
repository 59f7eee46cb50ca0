package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"squish/internal/config"
)

// Status is the outcome of a recorded conversion.
type Status string

const (
	StatusConverted   Status = "converted"
	StatusPassthrough Status = "passthrough"
	StatusFailed      Status = "failed"
)

// Entry is one recorded conversion.
type Entry struct {
	ID         int64
	Source     string
	Output     string
	Operation  string
	MediaType  string
	Status     Status
	Attempts   int
	InputSize  int64
	OutputSize int64
	Delivery   string
	ErrorKind  string
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Stats aggregates the history table.
type Stats struct {
	Total       int
	Converted   int
	Passthrough int
	Failed      int
	InputBytes  int64
	OutputBytes int64
}

// Saved reports bytes saved across successful conversions.
func (s Stats) Saved() int64 {
	if s.OutputBytes >= s.InputBytes {
		return 0
	}
	return s.InputBytes - s.OutputBytes
}

// Store persists conversion history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Open initializes or connects to the history database at cfg.HistoryPath().
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.HistoryPath()
	db, err := sql.Open("sqlite", dbPath)
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

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Record inserts entry and returns its ID. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if strings.TrimSpace(entry.Source) == "" {
		return 0, errors.New("history entry needs a source")
	}
	if entry.Status == "" {
		return 0, errors.New("history entry needs a status")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversions (
                source, output, operation, media_type, status, attempts,
                input_size, output_size, delivery, error_kind, error_message,
                duration_ms, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Source,
			nullableString(entry.Output),
			orDefault(entry.Operation, "compress"),
			orDefault(entry.MediaType, "unknown"),
			string(entry.Status),
			entry.Attempts,
			entry.InputSize,
			entry.OutputSize,
			nullableString(entry.Delivery),
			nullableString(entry.ErrorKind),
			nullableString(entry.Error),
			entry.Duration.Milliseconds(),
			entry.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert conversion: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, output, operation, media_type, status, attempts,
                input_size, output_size, delivery, error_kind, error_message,
                duration_ms, created_at
         FROM conversions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Stats aggregates all recorded conversions.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1),
                COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status != ? THEN input_size ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status != ? THEN output_size ELSE 0 END), 0)
         FROM conversions`,
		string(StatusConverted), string(StatusPassthrough), string(StatusFailed), string(StatusFailed), string(StatusFailed))
	if err := row.Scan(&stats.Total, &stats.Converted, &stats.Passthrough, &stats.Failed, &stats.InputBytes, &stats.OutputBytes); err != nil {
		return Stats{}, fmt.Errorf("history stats: %w", err)
	}
	return stats, nil
}

// Prune deletes entries recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry      Entry
		status     string
		output     sql.NullString
		delivery   sql.NullString
		errorKind  sql.NullString
		errorMsg   sql.NullString
		durationMS int64
		createdRaw string
	)
	if err := scanner.Scan(
		&entry.ID, &entry.Source, &output, &entry.Operation, &entry.MediaType, &status, &entry.Attempts,
		&entry.InputSize, &entry.OutputSize, &delivery, &errorKind, &errorMsg,
		&durationMS, &createdRaw,
	); err != nil {
		return Entry{}, fmt.Errorf("scan history row: %w", err)
	}
	entry.Status = Status(status)
	entry.Output = output.String
	entry.Delivery = delivery.String
	entry.ErrorKind = errorKind.String
	entry.Error = errorMsg.String
	entry.Duration = time.Duration(durationMS) * time.Millisecond
	if created, err := time.Parse(timeLayout, createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return entry, nil
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
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value == "" {
		return fallback
	}
	return value
}
