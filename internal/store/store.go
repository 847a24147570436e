// Package store defines the persistent row store contract and the backend
// registry. Backends register themselves from init() under a kind string;
// callers open a store through Open without importing backend packages.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rowlab/internal/dataset"
)

// Config selects and configures a backend.
type Config struct {
	// Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
	Kind string `json:"kind"`
	// DSN is passed through to the backend factory; validation is
	// backend-specific.
	DSN string `json:"dsn"`
	// ChunkSize overrides the keyset page size for Scan. Backends fall back
	// to their default when it is <= 0.
	ChunkSize int `json:"chunk_size"`
}

// Manifest records what the store currently holds: the source file's column
// order (needed for faithful export), its delimiter kind, and the accepted
// row count. It is overwritten on every import.
type Manifest struct {
	Columns    []string  `json:"columns"`
	FileKind   string    `json:"file_kind"`
	Rows       int64     `json:"rows"`
	ImportedAt time.Time `json:"imported_at"`
}

// Store is the persistent row set, keyed by the unique row id.
//
// Lifecycle: Open -> Clear + bulk load on each import -> read many times ->
// Close at process exit. The store owns row lifetime; readers only hold
// transient result sets.
//
// Concurrency: a single active ingest or scan is assumed. Clear and
// UpsertMany are atomic with respect to partial visibility — readers never
// observe a row set mixing pre-clear and post-clear generations.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// Clear idempotently empties all rows. It completes before any
	// subsequent write becomes visible to readers.
	Clear(ctx context.Context) error

	// UpsertMany inserts or replaces rows by id inside one transaction.
	// On success it returns len(rows). On failure nothing from this call is
	// durable and written is 0, so the caller can retry or abort without
	// double-counting.
	UpsertMany(ctx context.Context, rows []dataset.Row) (written int, err error)

	// Count returns the exact number of stored rows.
	Count(ctx context.Context) (int64, error)

	// CursorRead returns up to limit rows in store order (ascending id),
	// skipping offset rows first.
	CursorRead(ctx context.Context, offset, limit int) ([]dataset.Row, error)

	// Scan visits every row in store order until exhaustion, a visit error,
	// or visit returning false. Backends page internally so no single call
	// into the storage layer runs unbounded.
	Scan(ctx context.Context, visit func(dataset.Row) (bool, error)) error

	// FetchAll materializes every row. Only call when the store is known to
	// be small or the result is already bounded.
	FetchAll(ctx context.Context) ([]dataset.Row, error)

	// SaveManifest persists the import manifest, replacing any prior one.
	SaveManifest(ctx context.Context, m Manifest) error

	// LoadManifest returns the stored manifest, or nil when none exists.
	LoadManifest(ctx context.Context) (*Manifest, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init() function
// in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Intentional, to fail fast on ambiguous
//     backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("store: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
