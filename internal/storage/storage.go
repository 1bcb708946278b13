// Package storage owns the SQLite file behind the assistant: the facts
// table, the conversation log and search metrics.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrSchemaAhead means the file was migrated by a newer build.
var ErrSchemaAhead = errors.New("database schema is newer than this build")

// busyTimeoutMs is how long a connection waits on a locked database.
const busyTimeoutMs = 10000

var pragmas = []string{
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

type migration struct {
	version string
	sql     string
}

// DB is the open database. SQLite allows one writer, so the pool holds a
// single connection and callers never contend with themselves.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at dbPath, switches it to WAL and
// applies pending migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}
	if err := db.configure(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configure() error {
	var mode string
	if err := db.conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("storage: enable WAL: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("storage: journal mode is %q, want wal", mode)
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			return fmt.Errorf("storage: %s: %w", p, err)
		}
	}
	return nil
}

// loadMigrations returns the embedded migrations in version order.
func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: path.Base(name), sql: string(content)})
	}
	return out, nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return err
	}

	known, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if extra := unknownVersions(applied, known); len(extra) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaAhead, strings.Join(extra, ", "))
	}

	for _, m := range known {
		if slices.Contains(applied, m.version) {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("%s: %w", m.version, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func unknownVersions(applied []string, known []migration) []string {
	var extra []string
	for _, v := range applied {
		if !slices.ContainsFunc(known, func(m migration) bool { return m.version == v }) {
			extra = append(extra, v)
		}
	}
	return extra
}

// AppliedMigrations lists the recorded migration versions in order.
func (db *DB) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Report is the result of Check.
type Report struct {
	Integrity  string
	Migrations []string
	Pending    []string
	Facts      int
	Turns      int
	Problems   []string
}

// Healthy reports whether Check found nothing wrong.
func (r Report) Healthy() bool {
	return r.Integrity == "ok" && len(r.Pending) == 0 && len(r.Problems) == 0
}

// Check runs SQLite's quick_check, lists pending migrations and looks for
// rows the memory layer should never have written: whitespace-only facts,
// turns without a user message, timestamps in the future. The error is set
// only when a query fails; findings go in the report.
func (db *DB) Check(ctx context.Context) (Report, error) {
	var r Report
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&r.Integrity); err != nil {
		return r, fmt.Errorf("storage: quick_check: %w", err)
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return r, fmt.Errorf("storage: migrations: %w", err)
	}
	r.Migrations = applied
	known, err := loadMigrations()
	if err != nil {
		return r, err
	}
	for _, m := range known {
		if !slices.Contains(applied, m.version) {
			r.Pending = append(r.Pending, m.version)
		}
	}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&r.Facts); err != nil {
		return r, fmt.Errorf("storage: count facts: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM conv").Scan(&r.Turns); err != nil {
		return r, fmt.Errorf("storage: count turns: %w", err)
	}

	future := time.Now().Add(time.Hour).Unix()
	checks := []struct {
		label string
		query string
		args  []any
	}{
		{"blank facts", "SELECT COUNT(*) FROM facts WHERE trim(text) = ''", nil},
		{"turns without a user message", "SELECT COUNT(*) FROM conv WHERE trim(user_msg) = ''", nil},
		{"rows dated in the future", "SELECT (SELECT COUNT(*) FROM facts WHERE added_at > ?) + (SELECT COUNT(*) FROM conv WHERE ts > ?)", []any{future, future}},
	}
	for _, c := range checks {
		var n int
		if err := db.conn.QueryRowContext(ctx, c.query, c.args...).Scan(&n); err != nil {
			return r, fmt.Errorf("storage: %s: %w", c.label, err)
		}
		if n > 0 {
			r.Problems = append(r.Problems, fmt.Sprintf("%d %s", n, c.label))
		}
	}
	return r, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the underlying pool for the packages that own the tables.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the database answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
