// ABOUTME: cgo SQLite backend using github.com/mattn/go-sqlite3
// ABOUTME: Same schema and durability settings as the pure Go backend

package kv

import (
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite3 opens the tenant database at dir using the cgo driver.
func OpenSQLite3(dir string) (Engine, error) {
	dsn := "file:" + filepath.Join(dir, DatabaseFile) +
		"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	engine, err := openSQL("sqlite3", dir, dsn)
	if err != nil {
		return nil, err
	}
	return engine, nil
}
