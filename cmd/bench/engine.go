package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

// engine is a stand-in query engine: an in-memory SQLite table of sales
// rows, queried per production line.
type engine struct {
	db    *sql.DB
	delay time.Duration
	q     *sql.Stmt
}

func openEngine(ctx context.Context, lines, rowsPerLine int, delay time.Duration, seed int64) (*engine, error) {
	db, err := sql.Open("sqlite", "file:bench?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE sales (
		line    TEXT NOT NULL,
		day     TEXT NOT NULL,
		product TEXT NOT NULL,
		qty     INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX sales_line ON sales(line)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO sales (line, day, product, qty) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, err
	}
	r := rand.New(rand.NewSource(seed))
	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for l := 0; l < lines; l++ {
		for i := 0; i < rowsPerLine; i++ {
			day := day0.AddDate(0, 0, r.Intn(30)).Format(time.DateOnly)
			if _, err := ins.ExecContext(ctx, lineName(l), day, fmt.Sprintf("p%02d", r.Intn(20)), r.Intn(500)); err != nil {
				_ = tx.Rollback()
				_ = db.Close()
				return nil, err
			}
		}
	}
	_ = ins.Close()
	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return nil, err
	}

	q, err := db.PrepareContext(ctx, `SELECT line, day, product, qty FROM sales WHERE line = ? ORDER BY day, product`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &engine{db: db, delay: delay, q: q}, nil
}

func lineName(i int) string { return fmt.Sprintf("L%03d", i) }

// compute returns the cache.ComputeFunc for one line.
func (e *engine) compute(line string) cache.ComputeFunc {
	return func(ctx context.Context) ([]cache.Row, error) {
		if e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		rows, err := e.q.QueryContext(ctx, line)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []cache.Row
		for rows.Next() {
			var l, day, product string
			var qty int64
			if err := rows.Scan(&l, &day, &product, &qty); err != nil {
				return nil, err
			}
			out = append(out, cache.Row{"line": l, "day": day, "product": product, "qty": qty})
		}
		return out, rows.Err()
	}
}

func (e *engine) Close() error {
	_ = e.q.Close()
	return e.db.Close()
}
