// Package db is the SQLite store behind sqldown.
//
// Each document collection is one table whose columns follow a plan.Plan.
// Two metadata tables sit next to the collections and are never counted
// against a plan's column budget:
//
//   - _sqldown_columns: the persisted plan (position, name, origin, source
//     key, kind) so later runs extend rather than reorder a table, and so
//     dump can restore original frontmatter keys.
//   - _sqldown_files: the last fingerprint written for each document.
//
// The database runs in WAL mode with a busy timeout. All mutations go
// through Apply, which runs one reconciliation pass in a single transaction.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	columnsTable = "_sqldown_columns"
	filesTable   = "_sqldown_files"
)

// MetadataPrefix is the name prefix of internal tables.
const MetadataPrefix = "_sqldown_"

// StoreError reports a failed store operation. When it comes from Apply the
// transaction has already been rolled back.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err is (or wraps) a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Exists reports whether a database file is present at path. Callers use it
// to read a stored plan without creating the file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Open opens or creates the database at path. Metadata tables are created
// by the first Apply, so opening and reading never writes rows.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext opens the database with context support.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create database directory: %w", err)}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := "file:" + filepath.ToSlash(path) +
		"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to open database: %w", err)}
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// OpenExisting opens the database only if the file already exists. It
// returns fs.ErrNotExist otherwise.
func OpenExisting(ctx context.Context, path string) (*DB, error) {
	if !Exists(path) {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("%s: %w", path, fs.ErrNotExist)}
	}
	return OpenContext(ctx, path)
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the metadata tables if they don't exist.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the metadata tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if err := initSchema(ctx, db.conn); err != nil {
		return &StoreError{Op: "init schema", Err: err}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func initSchema(ctx context.Context, e execer) error {
	_, err := e.ExecContext(ctx, metadataSchema)
	return err
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS ` + columnsTable + ` (
	table_name TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	origin TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	PRIMARY KEY (table_name, position)
);

CREATE TABLE IF NOT EXISTS ` + filesTable + ` (
	table_name TEXT NOT NULL,
	id TEXT NOT NULL,
	path TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	synced_at TEXT NOT NULL,
	PRIMARY KEY (table_name, id)
);

CREATE INDEX IF NOT EXISTS idx_sqldown_files_path ON ` + filesTable + `(table_name, path);
`

// quoteIdent quotes a table or column name for SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func hasTable(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
