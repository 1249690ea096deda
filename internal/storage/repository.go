package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownBackend is returned by New when Config.Kind has no registered factory.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic persistence contract of the loader.
//
// Each backend implements the conditional merge in its own dialect
// (Postgres ON CONFLICT, SQLite upsert, SQL Server MERGE) but must honour the
// same semantics:
//   - rows whose key is new are inserted
//   - rows whose key exists are updated only when at least one non-key
//     column differs, NULL-safely; the update rewrites every non-key column
//     and the load timestamp
//   - rows that match the stored values are left untouched
//   - the whole request is applied in one transaction
type Repository interface {
	// Close releases backend resources. Call it once.
	Close()

	// EnsureSchema creates namespace and the given tables when absent.
	// It must be idempotent.
	EnsureSchema(ctx context.Context, namespace string, tables []TableSpec) error

	// Upsert applies req atomically and returns the number of rows inserted
	// or updated. On error nothing from req is persisted.
	Upsert(ctx context.Context, req UpsertRequest) (int64, error)
}

// UpsertRequest is one batch destined for one table.
type UpsertRequest struct {
	Namespace  string
	Table      string
	PrimaryKey string
	// Columns lists the value columns in tuple order; it must include
	// PrimaryKey and must not include LoadedAtColumn.
	Columns []string
	Rows    [][]any
	// LoadedAt is written to LoadedAtColumn on every inserted or updated row.
	LoadedAt time.Time
}

// Validate reports structural problems that no backend could execute.
func (r UpsertRequest) Validate() error {
	if r.Table == "" {
		return fmt.Errorf("storage: upsert: table is empty")
	}
	if len(r.Columns) == 0 {
		return fmt.Errorf("storage: upsert %s: no columns", r.Table)
	}
	seen := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		if c == "" {
			return fmt.Errorf("storage: upsert %s: empty column name", r.Table)
		}
		if c == LoadedAtColumn {
			return fmt.Errorf("storage: upsert %s: %s is managed by the loader", r.Table, LoadedAtColumn)
		}
		if seen[c] {
			return fmt.Errorf("storage: upsert %s: duplicate column %q", r.Table, c)
		}
		seen[c] = true
	}
	if !seen[r.PrimaryKey] {
		return fmt.Errorf("storage: upsert %s: primary key %q not in columns", r.Table, r.PrimaryKey)
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("storage: upsert %s: row %d has %d values, want %d", r.Table, i, len(row), len(r.Columns))
		}
	}
	return nil
}

// NonKeyColumns returns Columns without PrimaryKey, in order.
func (r UpsertRequest) NonKeyColumns() []string {
	out := make([]string, 0, len(r.Columns))
	for _, c := range r.Columns {
		if c != r.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// BatchRows splits rows so that no chunk binds more than maxParams
// parameters at width parameters per row. Every chunk holds at least one row.
func BatchRows(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := len(rows)
	if width > 0 && maxParams > 0 {
		per = maxParams / width
		if per < 1 {
			per = 1
		}
	}
	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
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

// New opens a Repository using the factory registered for cfg.Kind.
//
// Errors:
//   - ErrUnknownBackend (wrapped) if cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("%w: kind is empty", ErrUnknownBackend)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: kind=%s (registered: %v)", ErrUnknownBackend, cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
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
