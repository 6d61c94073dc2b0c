package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL opens a MySQL-backed Store using dsn (a go-sql-driver/mysql
// data source name, e.g. "user:pass@tcp(host:3306)/vortexdock?parseTime=true").
// Unlike SQLite, MySQL handles concurrent writers natively, so the pool is
// sized for real parallelism across dispatcher connections.
func NewMySQL(dsn string) (Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}
	return &sqlStore{db: db, d: mysqlDialect{}}, nil
}
