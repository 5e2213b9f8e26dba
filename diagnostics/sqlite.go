package diagnostics

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const createSpillTable = `CREATE TABLE IF NOT EXISTS spill_records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	flushed_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
)`

// SQLiteSink stores spill records in an insert-only table. Each row holds
// the full record as JSON so rows are independently decodable.
type SQLiteSink struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteSink opens the SQLite database at dsn (e.g. a file path or
// "file::memory:?cache=shared") and prepares the table.
func OpenSQLiteSink(ctx context.Context, dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open sqlite: %w", err)
	}
	s, err := NewSQLiteSink(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteSink uses an existing handle; the caller keeps ownership of db.
func NewSQLiteSink(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.ExecContext(ctx, createSpillTable); err != nil {
		return nil, fmt.Errorf("diagnostics: create spill table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, rec SpillRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("diagnostics: encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spill_records (id, flushed_at, payload) VALUES (?, ?, ?)`,
		rec.ID, rec.FlushedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Records reads every stored record in insertion order.
func (s *SQLiteSink) Records(ctx context.Context) ([]SpillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM spill_records ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpillRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return out, err
		}
		var rec SpillRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return out, fmt.Errorf("diagnostics: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database if the sink opened it.
func (s *SQLiteSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ Sink = (*SQLiteSink)(nil)
