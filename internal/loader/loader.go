// Package loader shapes loosely-typed feed records into positional rows and
// merges them into a bronze table through a storage.Repository.
//
// A Load never panics and never returns a Go error: persistence problems are
// logged with the destination table and reported in Result.Err, so one
// failing destination does not affect the others.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"elt/internal/feed"
	"elt/internal/metrics"
	"elt/internal/storage"
)

// ErrInvalidRequest wraps every input validation failure.
var ErrInvalidRequest = errors.New("loader: invalid request")

// Repository is the part of storage.Repository the loader needs.
type Repository interface {
	Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error)
}

// Result is the outcome of one Load.
type Result struct {
	Destination string
	// Affected counts rows inserted or updated. Unchanged rows are not counted.
	Affected int64
	// Skipped is true when there was nothing to load.
	Skipped bool
	Err     error
}

// Option customizes a Loader.
type Option func(*Loader)

// WithClock sets the clock used to stamp _loaded_at.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// Loader performs idempotent upserts of feed batches.
type Loader struct {
	repo      Repository
	namespace string
	clock     clockwork.Clock
	logger    *zap.Logger
}

// New returns a Loader writing into namespace. Destinations passed to Load
// may override it with a "schema.table" name.
func New(repo Repository, namespace string, opts ...Option) *Loader {
	l := &Loader{
		repo:      repo,
		namespace: namespace,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load merges records into destination.
//
// Behavior:
//   - Each record becomes one tuple in columns order. Column user_id reads
//     the source field userId; missing fields are NULL.
//   - Maps and slices are stored as their JSON text.
//   - New keys are inserted. Existing keys are rewritten only when some
//     non-key column differs, and only then is _loaded_at bumped.
//   - The batch is all-or-nothing.
//
// An empty batch is a no-op with Skipped set.
func (l *Loader) Load(ctx context.Context, destination, primaryKey string, columns []string, records []feed.Record) Result {
	res := Result{Destination: destination}

	namespace, table := storage.SplitQualifiedName(destination)
	if namespace == "" {
		namespace = l.namespace
	}
	if err := validate(table, primaryKey, columns); err != nil {
		res.Err = err
		l.logger.Error("load rejected", zap.String("table", destination), zap.Error(err))
		return res
	}

	if len(records) == 0 {
		res.Skipped = true
		l.logger.Info("no data received, skipping", zap.String("table", destination))
		return res
	}

	rows, err := ShapeRows(columns, records)
	if err != nil {
		res.Err = fmt.Errorf("loader: %s: %w", destination, err)
		l.logger.Error("load failed", zap.String("table", destination), zap.Error(res.Err))
		return res
	}

	pkIdx := indexOf(columns, primaryKey)
	if dups := storage.DuplicateKeys(rows, pkIdx); len(dups) > 0 {
		l.logger.Warn("duplicate primary keys in batch",
			zap.String("table", destination),
			zap.Strings("keys", dups),
		)
	}

	req := storage.UpsertRequest{
		Namespace:  namespace,
		Table:      table,
		PrimaryKey: primaryKey,
		Columns:    columns,
		Rows:       rows,
		LoadedAt:   l.clock.Now().UTC().Truncate(time.Microsecond),
	}
	metrics.RecordRows(table, "received", int64(len(rows)))

	n, err := l.repo.Upsert(ctx, req)
	if err != nil {
		res.Err = fmt.Errorf("loader: %s: %w", destination, err)
		metrics.RecordRows(table, "failed", int64(len(rows)))
		l.logger.Error("load failed", zap.String("table", destination), zap.Error(err))
		return res
	}

	res.Affected = n
	metrics.RecordRows(table, "affected", n)
	l.logger.Info("loaded",
		zap.String("table", destination),
		zap.Int("received", len(rows)),
		zap.Int64("affected", n),
	)
	return res
}

func validate(table, primaryKey string, columns []string) error {
	if table == "" {
		return fmt.Errorf("%w: destination is empty", ErrInvalidRequest)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: %s: no columns", ErrInvalidRequest, table)
	}
	if primaryKey == "" || indexOf(columns, primaryKey) < 0 {
		return fmt.Errorf("%w: %s: primary key %q not in columns", ErrInvalidRequest, table, primaryKey)
	}
	return nil
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
