package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Options tunes the connection pool. Zero values keep the driver defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DB wraps the database connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
	now     func() time.Time
}

// DefaultDBPath returns ~/.autoflow/autoflow.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".autoflow")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "autoflow.db"), nil
}

// IsPostgresDSN reports whether dsn addresses a Postgres server rather than a SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open opens or creates the database. A postgres:// URL selects the pgx driver;
// anything else is treated as a SQLite path.
func Open(dsn string) (*DB, error) {
	return OpenWithOptions(context.Background(), dsn, Options{})
}

// OpenWithOptions is Open with pool tuning and a bounded initial ping.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*DB, error) {
	if IsPostgresDSN(dsn) {
		return openPostgres(ctx, dsn, opts)
	}
	return openSQLite(ctx, dsn)
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &DB{conn: conn, dsn: path, dialect: SQLite, now: utcNow}, nil
}

func openPostgres(ctx context.Context, dsn string, opts Options) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}
	return &DB{conn: conn, dsn: dsn, dialect: Postgres, now: utcNow}, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports which SQL flavour this DB speaks.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.conn.ExecContext(ctx, d.rebind(query), args...)
	return res, classify(err)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.conn.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(query), args...)
	return rows, classify(err)
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipelines (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT NOT NULL UNIQUE,
    kind           TEXT NOT NULL CHECK(kind IN ('github')),
    repository_url TEXT NOT NULL DEFAULT '',
    owner          TEXT NOT NULL DEFAULT '',
    repo           TEXT NOT NULL DEFAULT '',
    workflow_id    TEXT NOT NULL DEFAULT '',
    workflow_name  TEXT NOT NULL DEFAULT '',
    webhook_id     TEXT NOT NULL DEFAULT '',
    is_active      BOOLEAN NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline_id      INTEGER NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
    external_id      TEXT NOT NULL,
    status           TEXT NOT NULL CHECK(status IN ('pending','queued','running','success','failure','cancelled','skipped','timeout','unknown')),
    build_number     INTEGER NOT NULL,
    run_attempt      INTEGER NOT NULL DEFAULT 1,
    duration_seconds INTEGER,
    commit_hash      TEXT NOT NULL DEFAULT '',
    commit_message   TEXT NOT NULL DEFAULT '',
    branch           TEXT NOT NULL DEFAULT '',
    log_ref          TEXT NOT NULL DEFAULT '',
    run_url          TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMP,
    completed_at     TIMESTAMP,
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL,
    UNIQUE(pipeline_id, external_id),
    UNIQUE(pipeline_id, build_number)
);
CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id, build_number DESC);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline_id       INTEGER REFERENCES pipelines(id) ON DELETE CASCADE,
    email             TEXT NOT NULL,
    notify_on_started BOOLEAN NOT NULL DEFAULT 1,
    notify_on_success BOOLEAN NOT NULL DEFAULT 1,
    notify_on_failure BOOLEAN NOT NULL DEFAULT 1,
    notify_on_stopped BOOLEAN NOT NULL DEFAULT 1,
    created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_pipeline ON subscriptions(pipeline_id);

CREATE TABLE IF NOT EXISTS notifications (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id INTEGER NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    channel      TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    event        TEXT NOT NULL,
    outcome      TEXT NOT NULL CHECK(outcome IN ('sent','failed','skipped')),
    detail       TEXT NOT NULL DEFAULT '',
    sent_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_execution ON notifications(execution_id);
`

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipelines (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    kind           TEXT NOT NULL CHECK(kind IN ('github')),
    repository_url TEXT NOT NULL DEFAULT '',
    owner          TEXT NOT NULL DEFAULT '',
    repo           TEXT NOT NULL DEFAULT '',
    workflow_id    TEXT NOT NULL DEFAULT '',
    workflow_name  TEXT NOT NULL DEFAULT '',
    webhook_id     TEXT NOT NULL DEFAULT '',
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id               BIGSERIAL PRIMARY KEY,
    pipeline_id      BIGINT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
    external_id      TEXT NOT NULL,
    status           TEXT NOT NULL CHECK(status IN ('pending','queued','running','success','failure','cancelled','skipped','timeout','unknown')),
    build_number     INTEGER NOT NULL,
    run_attempt      INTEGER NOT NULL DEFAULT 1,
    duration_seconds BIGINT,
    commit_hash      TEXT NOT NULL DEFAULT '',
    commit_message   TEXT NOT NULL DEFAULT '',
    branch           TEXT NOT NULL DEFAULT '',
    log_ref          TEXT NOT NULL DEFAULT '',
    run_url          TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    UNIQUE(pipeline_id, external_id),
    UNIQUE(pipeline_id, build_number)
);
CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id, build_number DESC);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                BIGSERIAL PRIMARY KEY,
    pipeline_id       BIGINT REFERENCES pipelines(id) ON DELETE CASCADE,
    email             TEXT NOT NULL,
    notify_on_started BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_success BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_failure BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_stopped BOOLEAN NOT NULL DEFAULT TRUE,
    created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_pipeline ON subscriptions(pipeline_id);

CREATE TABLE IF NOT EXISTS notifications (
    id           BIGSERIAL PRIMARY KEY,
    execution_id BIGINT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    channel      TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    event        TEXT NOT NULL,
    outcome      TEXT NOT NULL CHECK(outcome IN ('sent','failed','skipped')),
    detail       TEXT NOT NULL DEFAULT '',
    sent_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_execution ON notifications(execution_id);
`

func (d *DB) schemaV1() string {
	if d.dialect == Postgres {
		return postgresSchemaV1
	}
	return sqliteSchemaV1
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.schemaV1()); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"notifications", "subscriptions", "executions", "pipelines", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
