// Package kv provides the single-tenant durable key-value engine used by the
// webhook to persist chat events.
//
// # Contract
//
// Every backend implements Engine:
//
//	Get(ctx, key) (value, found, error)
//	Set(ctx, key, value) error
//	Close() error
//
// Set returns only after the write is committed to stable storage. Get on a
// key that was never written returns found=false and a nil error. Engines are
// safe for concurrent use without an external lock.
//
// # Backends
//
//   - sqlite:  modernc.org/sqlite (pure Go), the default
//   - sqlite3: github.com/mattn/go-sqlite3 (cgo)
//   - memory:  in-process map, for tests and throwaway runs
//
// SQLite backends keep one database file, store.db, inside the directory
// passed to the Opener. The directory is created when missing and an existing
// database is reopened as-is.
//
// # Errors
//
// Failures wrap one of ErrOpen, ErrRead, ErrWrite or ErrEncoding so callers
// can classify them with errors.Is. The underlying driver error stays in the
// chain.
package kv
