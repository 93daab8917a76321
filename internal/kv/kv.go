// ABOUTME: Engine contract, backend registry and error taxonomy for tenant storage
// ABOUTME: Callers depend on Engine only; backends are picked by name at startup

package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOpen is returned when a database cannot be opened or created.
	ErrOpen = errors.New("kv: open failed")

	// ErrRead is returned when a lookup fails with an I/O error.
	ErrRead = errors.New("kv: read failed")

	// ErrWrite is returned when a value could not be durably stored.
	ErrWrite = errors.New("kv: write failed")

	// ErrEncoding is returned when stored bytes are not valid UTF-8 text.
	ErrEncoding = errors.New("kv: stored value is not valid text")

	// ErrClosed is returned by operations on a closed engine, including
	// operations that were in flight when Close was called.
	ErrClosed = errors.New("kv: engine closed")

	// ErrUnknownBackend is returned by Backend for unregistered names.
	ErrUnknownBackend = errors.New("kv: unknown backend")
)

// Backend names accepted by Backend.
const (
	BackendSQLite  = "sqlite"
	BackendSQLite3 = "sqlite3"
	BackendMemory  = "memory"
)

// Engine is a durable string-to-string store for one tenant.
type Engine interface {
	// Get returns the value stored under key. found is false when the key
	// has never been written.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value. A nil error
	// means the write has reached stable storage.
	Set(ctx context.Context, key, value string) error

	// Close releases the underlying database.
	Close() error
}

// Lister is implemented by engines that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Opener opens the engine rooted at path, creating it if needed.
type Opener func(path string) (Engine, error)

var backends = map[string]Opener{
	BackendSQLite:  OpenSQLite,
	BackendSQLite3: OpenSQLite3,
	BackendMemory:  OpenMemory,
}

// Backend returns the Opener registered under name.
func Backend(name string) (Opener, error) {
	open, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return open, nil
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
