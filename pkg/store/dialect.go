package store

import "database/sql"

// dialect isolates the handful of places SQLite and MySQL need different
// SQL: autoincrement syntax, row-locking syntax, and transaction isolation.
// Everything else is written once against database/sql's ? placeholder,
// which both drivers accept.
type dialect interface {
	name() string

	// createTasksTable, createAuthTable, createHeartbeatsTable and
	// createLigandsTable return full CREATE TABLE IF NOT EXISTS statements.
	createTasksTable() string
	createAuthTable() string
	createHeartbeatsTable() string
	createLigandsTable(table string) string

	// leaseIsolation is the transaction isolation level used for the
	// get_task lease transaction.
	leaseIsolation() sql.IsolationLevel

	// selectPendingForUpdate returns a SELECT over table that locks the
	// returned row against concurrent leasing. On MySQL this is a real
	// FOR UPDATE SKIP LOCKED; on SQLite, where only one writer transaction
	// can ever be in flight at a time, plain SELECT is sufficient and
	// SKIP LOCKED has no analog.
	selectPendingForUpdate(table string) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) createTasksTable() string {
	return `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		center_x REAL NOT NULL, center_y REAL NOT NULL, center_z REAL NOT NULL,
		size_x REAL NOT NULL, size_y REAL NOT NULL, size_z REAL NOT NULL,
		num_modes INTEGER NOT NULL, energy_range REAL NOT NULL, cpu INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	)`
}

func (sqliteDialect) createAuthTable() string {
	return `CREATE TABLE IF NOT EXISTS server_auth (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`
}

func (sqliteDialect) createHeartbeatsTable() string {
	return `CREATE TABLE IF NOT EXISTS node_heartbeats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_addr TEXT NOT NULL,
		cpu_usage REAL NOT NULL,
		memory_usage REAL NOT NULL,
		last_heartbeat DATETIME NOT NULL
	)`
}

func (sqliteDialect) createLigandsTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		ligand_id TEXT PRIMARY KEY,
		ligand_file TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		output_file TEXT,
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	)`
}

func (sqliteDialect) leaseIsolation() sql.IsolationLevel { return sql.LevelSerializable }

func (sqliteDialect) selectPendingForUpdate(table string) string {
	return `SELECT ligand_id, ligand_file, retry_count FROM ` + table + ` WHERE status = 'pending' ORDER BY created_at LIMIT 1`
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) createTasksTable() string {
	return `CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(191) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		center_x DOUBLE NOT NULL, center_y DOUBLE NOT NULL, center_z DOUBLE NOT NULL,
		size_x DOUBLE NOT NULL, size_y DOUBLE NOT NULL, size_z DOUBLE NOT NULL,
		num_modes INT NOT NULL, energy_range DOUBLE NOT NULL, cpu INT NOT NULL,
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	) ENGINE=InnoDB`
}

func (mysqlDialect) createAuthTable() string {
	return `CREATE TABLE IF NOT EXISTS server_auth (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL
	) ENGINE=InnoDB`
}

func (mysqlDialect) createHeartbeatsTable() string {
	return `CREATE TABLE IF NOT EXISTS node_heartbeats (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		client_addr VARCHAR(64) NOT NULL,
		cpu_usage DOUBLE NOT NULL,
		memory_usage DOUBLE NOT NULL,
		last_heartbeat DATETIME NOT NULL
	) ENGINE=InnoDB`
}

func (mysqlDialect) createLigandsTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		ligand_id VARCHAR(191) PRIMARY KEY,
		ligand_file VARCHAR(512) NOT NULL,
		status VARCHAR(32) NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		output_file VARCHAR(512),
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	) ENGINE=InnoDB`
}

func (mysqlDialect) leaseIsolation() sql.IsolationLevel { return sql.LevelRepeatableRead }

func (mysqlDialect) selectPendingForUpdate(table string) string {
	return `SELECT ligand_id, ligand_file, retry_count FROM ` + table + ` WHERE status = 'pending' ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED`
}
