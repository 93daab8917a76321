// ABOUTME: Tenant router that lazily opens and caches one storage engine per chat
// ABOUTME: Double-checked RWMutex map guarantees a single open per tenant id

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/2389/coven-webhook/internal/kv"
)

// MaxIDLength bounds tenant ids, which are also directory names.
const MaxIDLength = 128

// ErrInvalidTenant is returned for ids that cannot be used as a directory name
// under the base path.
var ErrInvalidTenant = errors.New("invalid tenant id")

// ErrRouterClosed is returned by Resolve after Close.
var ErrRouterClosed = errors.New("tenant router closed")

// Router hands out shared engines keyed by tenant id.
type Router struct {
	basePath string
	open     kv.Opener
	logger   *slog.Logger

	mu      sync.RWMutex
	engines map[string]kv.Engine
	closed  bool
}

// New creates a Router rooted at basePath. No I/O happens until Resolve.
func New(basePath string, open kv.Opener, logger *slog.Logger) *Router {
	return &Router{
		basePath: basePath,
		open:     open,
		logger:   logger,
		engines:  make(map[string]kv.Engine),
	}
}

// ValidateID reports whether id is safe to use as a single path segment.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTenant, MaxIDLength)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidTenant, id)
	case filepath.Base(id) != id:
		return fmt.Errorf("%w: %q is not a single path segment", ErrInvalidTenant, id)
	}
	return nil
}

// Path returns the storage directory for id.
func (r *Router) Path(id string) string {
	return filepath.Join(r.basePath, id)
}

// Lookup returns the engine for id if it has already been resolved and the
// router is still open.
func (r *Router) Lookup(id string) (kv.Engine, bool) {
	engine, ok, _ := r.lookup(id)
	return engine, ok
}

func (r *Router) lookup(id string) (engine kv.Engine, ok, closed bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, false, true
	}
	engine, ok = r.engines[id]
	return engine, ok, false
}

// Resolve returns the engine for id, opening it on first use. Every caller
// for the same id receives the same engine.
func (r *Router) Resolve(ctx context.Context, id string) (kv.Engine, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	engine, ok, closed := r.lookup(id)
	if closed {
		return nil, ErrRouterClosed
	}
	if ok {
		return engine, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return r.create(id)
}

// create opens the engine for id while holding the write lock. The lookup is
// repeated because another goroutine may have inserted id after our read.
func (r *Router) create(id string) (kv.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}
	if engine, ok := r.engines[id]; ok {
		return engine, nil
	}

	path := r.Path(id)
	engine, err := r.open(path)
	if err != nil {
		r.logger.Error("failed to open tenant store", "tenant", id, "path", path, "error", err)
		return nil, fmt.Errorf("opening store for tenant %s: %w", id, err)
	}

	r.engines[id] = engine
	r.logger.Info("tenant store opened",
		"tenant", id,
		"path", path,
		"total_tenants", len(r.engines),
	)
	return engine, nil
}

// Known returns the ids of every resolved tenant in ascending order.
func (r *Router) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnDisk returns the ids of tenant directories present under the base path,
// in ascending order. A missing base path yields an empty list.
func (r *Router) OnDisk() ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading base path: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || ValidateID(entry.Name()) != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

// Preload resolves every tenant found on disk so Known matches what a
// previous run persisted. It stops at the first failure.
func (r *Router) Preload(ctx context.Context) error {
	ids, err := r.OnDisk()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.Resolve(ctx, id); err != nil {
			return err
		}
	}
	r.logger.Info("preloaded tenant stores", "count", len(ids))
	return nil
}

// Close closes every engine. Later Resolve calls fail with ErrRouterClosed
// and Lookup reports nothing.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for id, engine := range r.engines {
		if err := engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tenant %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
