// ABOUTME: SQLite-backed Engine shared by the modernc and mattn drivers
// ABOUTME: One store.db per tenant directory, WAL journal with synchronous=FULL commits

package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// DatabaseFile is the name of the SQLite file inside a tenant directory.
const DatabaseFile = "store.db"

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// SQLiteEngine implements Engine on top of database/sql.
type SQLiteEngine struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens the tenant database at dir using the pure Go driver.
func OpenSQLite(dir string) (Engine, error) {
	// modernc applies each _pragma on every new connection.
	dsn := "file:" + filepath.Join(dir, DatabaseFile) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	engine, err := openSQL("sqlite", dir, dsn)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func openSQL(driver, dir, dsn string) (*SQLiteEngine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating directory %s: %w", ErrOpen, dir, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrOpen, dir, err)
	}

	// A single connection keeps writers from tripping SQLITE_BUSY; the pool
	// queues concurrent callers instead.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrOpen, dir, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema in %s: %w", ErrOpen, dir, err)
	}

	return &SQLiteEngine{db: db}, nil
}

// Get returns the value stored under key.
func (e *SQLiteEngine) Get(ctx context.Context, key string) (string, bool, error) {
	if e.closed.Load() {
		return "", false, ErrClosed
	}

	var raw []byte
	err := e.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, e.fault(ErrRead, fmt.Sprintf("key %q", key), err)
	}

	if !utf8.Valid(raw) {
		return "", false, fmt.Errorf("%w: key %q", ErrEncoding, key)
	}
	return string(raw), true, nil
}

// Set upserts value under key. The statement runs in autocommit mode, so with
// synchronous=FULL it returns after the WAL has been fsynced.
func (e *SQLiteEngine) Set(ctx context.Context, key, value string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, []byte(value), time.Now().UnixMilli())
	if err != nil {
		return e.fault(ErrWrite, fmt.Sprintf("key %q", key), err)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (e *SQLiteEngine) Keys(ctx context.Context) ([]string, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := e.db.QueryContext(ctx, `SELECT key FROM records ORDER BY key`)
	if err != nil {
		return nil, e.fault(ErrRead, "listing keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, e.fault(ErrRead, "scanning key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, e.fault(ErrRead, "iterating keys", err)
	}
	return keys, nil
}

// fault wraps a driver error in kind, or in ErrClosed when Close ran while
// the statement was in flight.
func (e *SQLiteEngine) fault(kind error, what string, err error) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: %s: %w", ErrClosed, what, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, what, err)
}

// Close closes the database. It is safe to call more than once.
func (e *SQLiteEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.db.Close()
}
