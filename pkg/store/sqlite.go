package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite opens (creating if absent) a SQLite-backed Store at path. The
// connection pool is capped at one open connection: SQLite serializes
// writers at the file level regardless, and a single connection avoids
// SQLITE_BUSY churn under the WAL journal mode used here instead of
// surfacing it as retry logic further up the stack.
func NewSQLite(path string) (Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	return &sqlStore{db: db, d: sqliteDialect{}}, nil
}
