package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS trades (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      TEXT NOT NULL,
	route          TEXT NOT NULL,
	profit_percent REAL NOT NULL,
	volume_usdt    REAL NOT NULL,
	status         TEXT NOT NULL,
	details        TEXT NOT NULL DEFAULT ''
)`

// SQLite stores records in a single trades table.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (l *SQLite) Append(ctx context.Context, rec Record) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO trades (timestamp, route, profit_percent, volume_usdt, status, details) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Time.UTC().Format(timeLayout), rec.Route, rec.ProfitPct, rec.Volume, string(rec.Status), rec.Details,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert: %w", err)
	}
	return nil
}

func (l *SQLite) Close() error { return l.db.Close() }
