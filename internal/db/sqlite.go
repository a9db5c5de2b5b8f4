package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sequenceSchema = `
CREATE TABLE IF NOT EXISTS code_sequences (
	name    TEXT PRIMARY KEY,
	last_no INTEGER NOT NULL DEFAULT 0
);`

// OpenSequenceDB opens (or creates) the SQLite database that backs sequential numbering.
// Use ":memory:" for a throwaway database.
func OpenSequenceDB(path string) (*sqlx.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sequence db: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database only lives as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if _, err := conn.Exec(sequenceSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate sequence db: %w", err)
	}
	return conn, nil
}
