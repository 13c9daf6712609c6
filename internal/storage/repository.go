package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedKind is returned by Open when no backend is registered for a kind.
var ErrUnsupportedKind = errors.New("storage: unsupported kind")

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Store is a backend-agnostic handle to the relational target of an import run.
//
// A Store owns the connection resources. All writes of a run go through a single
// Tx obtained from Begin, so the run is durable only when that Tx commits.
type Store interface {
	// Ping verifies connectivity. Backends that connect lazily use it to surface
	// connection errors before any stage runs.
	Ping(ctx context.Context) error

	// EnsureTables creates missing tables (create-if-not-exists semantics).
	// Existing tables are never altered.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Begin starts the run transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases backend resources. Callers treat Close as "call once".
	Close()
}

// Tx is the set of primitives the import stages need inside the run transaction.
//
// Each backend implements these semantics in its own idiomatic way (Postgres
// ON CONFLICT, SQLite OR IGNORE, MySQL INSERT IGNORE, SQL Server NOT EXISTS).
type Tx interface {
	// ClearTable removes every row of table inside the transaction.
	ClearTable(ctx context.Context, table string) error

	// InsertIfAbsent inserts one row unless a row with the same keyColumns values
	// already exists. Existing rows are never modified. created reports whether a
	// new row was written.
	InsertIfAbsent(ctx context.Context, table string, columns []string, values []any, keyColumns []string) (created bool, err error)

	// Insert inserts one row with plain INSERT semantics.
	Insert(ctx context.Context, table string, columns []string, values []any) error

	// LookupID returns the surrogate id stored in idColumn for the row whose
	// keyColumn equals key. found is false when no row matches.
	LookupID(ctx context.Context, table, keyColumn, idColumn string, key any) (id int64, found bool, err error)

	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)

	// Savepoint, RollbackTo and Release bracket a single statement so a failure
	// can be undone without aborting the run transaction.
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty.
//   - Returns ErrUnsupportedKind (wrapped) if cfg.Kind is not registered.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}
