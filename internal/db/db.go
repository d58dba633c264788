// Package db is the SQL event log: runs, pipeline events, model calls and
// check runs. SQLite is the default; a postgres:// DSN selects PostgreSQL.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// DB wraps the database connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect string
}

// DefaultDBPath returns <stateDir>/forge.db, creating the directory if needed.
// An empty stateDir means ~/.forge.
func DefaultDBPath(stateDir string) (string, error) {
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".forge")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", stateDir, err)
	}
	return filepath.Join(stateDir, "forge.db"), nil
}

// DialectFor returns the dialect a DSN selects.
func DialectFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open opens or creates the database. dsn is a SQLite file path (or
// ":memory:") or a PostgreSQL URL.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
			}
		}
	}
	return &DB{conn: conn, dsn: dsn, dialect: dialect}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect returns DialectSQLite or DialectPostgres.
func (d *DB) Dialect() string {
	return d.dialect
}

// Rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (d *DB) exec(query string, args ...interface{}) (sql.Result, error) {
	return d.conn.Exec(d.Rebind(query), args...)
}

func (d *DB) query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn.Query(d.Rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...interface{}) *sql.Row {
	return d.conn.QueryRow(d.Rebind(query), args...)
}

// schemaV1 returns the schema for the connection's dialect.
func (d *DB) schemaV1() string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == DialectPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(`
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    source      TEXT,
    status      TEXT NOT NULL,
    task_count  INTEGER NOT NULL DEFAULT 0,
    filename    TEXT,
    output_path TEXT,
    reward      DOUBLE PRECISION,
    penalty     DOUBLE PRECISION,
    error       TEXT,
    created_at  TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id          {{id}},
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT,
    task        INTEGER,
    detail      TEXT,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_run ON pipeline_events(run_id, timestamp);

CREATE TABLE IF NOT EXISTS llm_calls (
    id                {{id}},
    run_id            TEXT NOT NULL,
    request_id        TEXT NOT NULL,
    role              TEXT NOT NULL,
    model             TEXT NOT NULL,
    kind              TEXT NOT NULL,
    attempts          INTEGER NOT NULL,
    duration_ms       INTEGER NOT NULL,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL,
    error             TEXT,
    timestamp         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_run ON llm_calls(run_id, role);

CREATE TABLE IF NOT EXISTS check_runs (
    id          {{id}},
    run_id      TEXT NOT NULL,
    check_name  TEXT NOT NULL,
    passed      BOOLEAN NOT NULL,
    exit_code   INTEGER,
    duration_ms INTEGER,
    summary     TEXT,
    findings    TEXT,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_run ON check_runs(run_id, check_name);
`, "{{id}}", id)
}

// tables lists every table in drop order.
var tables = []string{"check_runs", "llm_calls", "pipeline_events", "runs", "schema_version"}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.queryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.schemaV1()); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), now()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
