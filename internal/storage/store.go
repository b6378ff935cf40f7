package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// When to use:
//   - Use Config when constructing a Store via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - MaxOpenConns <= 0 keeps the backend default.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind         string
	DSN          string
	MaxOpenConns int
}

// Statement is a SQL string plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Store is the backend-agnostic interface over the relational store holding
// dynamic tables.
//
// IMPORTANT: Store never validates identifiers. Callers pass names that have
// already gone through ValidateIdent; backends only quote them.
type Store interface {
	// Dialect describes quoting, placeholders and limits for query builders.
	Dialect() Dialect

	// DropTable drops table if it exists. A missing table is not an error.
	DropTable(ctx context.Context, table string) error

	// CreateTable creates table with an auto-increment "id" primary key plus
	// one nullable text column per name in columns.
	CreateTable(ctx context.Context, table string, columns []string) error

	// InsertRows inserts rows with a single multi-row INSERT statement and
	// returns the number of rows written. Every row must have len(columns)
	// values. Callers are responsible for keeping the statement under the
	// dialect's parameter ceiling.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Query runs a read statement and returns every row, with driver byte
	// slices converted to strings.
	Query(ctx context.Context, stmt Statement) ([][]any, error)

	// Close releases backend resources. Call once.
	Close()
}

// Factory opens a Store for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
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

// Open constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
