// Package sqlstore keeps tasks in MySQL or SQLite using the column layout of
// the legacy task tables.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/purushoth411/postmanback/domain"
)

// Dialect selects the SQL flavour spoken by the store.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// ParseDialect validates a configured backend name.
func ParseDialect(raw string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(raw))); d {
	case MySQL, SQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unknown sql dialect %q", raw)
	}
}

// Store implements the progression store and catalog on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database described by dsn. MySQL connections always
// parse DATETIME columns into time.Time; SQLite connections take write locks
// when a transaction begins.
func Open(dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, err
		}
		return New(sql.OpenDB(connector), MySQL), nil
	case SQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
		return New(db, SQLite), nil
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == MySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// mapError turns lock contention into domain.ErrConcurrencyConflict so the
// engine retries the transaction.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS tbl_task (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		task_type VARCHAR(32) NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT NULL,
		assigned_to BIGINT NOT NULL,
		added_by BIGINT NOT NULL,
		followers TEXT NOT NULL,
		due_date DATETIME NULL,
		status VARCHAR(16) NOT NULL,
		reopened TINYINT NOT NULL DEFAULT 0,
		ongoing TINYINT NOT NULL DEFAULT 0,
		ongoing_by BIGINT NOT NULL DEFAULT 0,
		benchmarks TEXT NOT NULL,
		completed_benchmarks TEXT NOT NULL,
		last_completion_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_remarks (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		task_id BIGINT NOT NULL,
		added_by BIGINT NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT '',
		remarks TEXT NULL,
		milestones TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_remarks_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_benchmark_completed (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		task_id BIGINT NOT NULL,
		benchmark_id BIGINT NOT NULL,
		closed_by BIGINT NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT '',
		weight DOUBLE NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_completed_task (task_id, benchmark_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_task_history (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		task_id BIGINT NOT NULL,
		actor_id BIGINT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_history_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_benchmark (
		id BIGINT NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		weight DOUBLE NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_admin (
		id BIGINT NOT NULL PRIMARY KEY,
		first_name VARCHAR(128) NOT NULL,
		last_name VARCHAR(128) NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tbl_task (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NULL,
		assigned_to INTEGER NOT NULL,
		added_by INTEGER NOT NULL,
		followers TEXT NOT NULL,
		due_date DATETIME NULL,
		status TEXT NOT NULL,
		reopened INTEGER NOT NULL DEFAULT 0,
		ongoing INTEGER NOT NULL DEFAULT 0,
		ongoing_by INTEGER NOT NULL DEFAULT 0,
		benchmarks TEXT NOT NULL,
		completed_benchmarks TEXT NOT NULL,
		last_completion_at DATETIME NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_remarks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		added_by INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		remarks TEXT NULL,
		milestones TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remarks_task ON tbl_remarks (task_id)`,
	`CREATE TABLE IF NOT EXISTS tbl_benchmark_completed (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		benchmark_id INTEGER NOT NULL,
		closed_by INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		weight REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completed_task ON tbl_benchmark_completed (task_id, benchmark_id)`,
	`CREATE TABLE IF NOT EXISTS tbl_task_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		actor_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_task ON tbl_task_history (task_id)`,
	`CREATE TABLE IF NOT EXISTS tbl_benchmark (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tbl_admin (
		id INTEGER PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	)`,
}
