package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"elt/internal/storage"
)

// maxParams matches SQLITE_MAX_VARIABLE_NUMBER of the bundled engine.
const maxParams = 32766

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - A namespace is an attached database. For a file DSN it lives next to
//     the main file as "<namespace>.db"; for an in-memory DSN it is another
//     in-memory database on the same connection.
//   - The pool is pinned to one connection so attachments stay visible.
//   - SQLite has no TIMESTAMPTZ; timestamps are stored as RFC3339Nano TEXT in
//     UTC for reliable round-trips.
//   - Change detection uses IS NOT, SQLite's NULL-safe inequality.
type Repo struct {
	db     *sql.DB
	dir    string
	memory bool

	mu       sync.Mutex
	attached map[string]bool
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the SQLite database named by cfg.DSN and verifies it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	dir, memory := dsnLocation(cfg.DSN)
	return &Repo{db: db, dir: dir, memory: memory, attached: map[string]bool{}}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// dsnLocation reports the directory holding the main database file, or
// memory=true for in-memory DSNs.
func dsnLocation(dsn string) (dir string, memory bool) {
	path := strings.TrimPrefix(strings.TrimSpace(dsn), "file:")
	query := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	if path == "" || path == ":memory:" || strings.Contains(query, "mode=memory") {
		return "", true
	}
	return filepath.Dir(path), false
}

// attachTarget returns the database file (or ":memory:") for namespace.
func (r *Repo) attachTarget(namespace string) string {
	if r.memory {
		return ":memory:"
	}
	return filepath.Join(r.dir, namespace+".db")
}

// ensureNamespace attaches namespace once per repository. It must run
// outside of a transaction.
func (r *Repo) ensureNamespace(ctx context.Context, namespace string) error {
	if namespace == "" || namespace == "main" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached[namespace] {
		return nil
	}

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_database_list WHERE name = ?`, namespace).Scan(&n); err != nil {
		return fmt.Errorf("sqlite: list databases: %w", err)
	}
	if n == 0 {
		q := fmt.Sprintf(`ATTACH DATABASE ? AS %s`, sqlIdent(namespace))
		if _, err := r.db.ExecContext(ctx, q, r.attachTarget(namespace)); err != nil {
			return fmt.Errorf("sqlite: attach %s: %w", namespace, err)
		}
	}
	r.attached[namespace] = true
	return nil
}

// EnsureSchema attaches the namespace database and creates missing tables.
//
// This method is idempotent.
func (r *Repo) EnsureSchema(ctx context.Context, namespace string, tables []storage.TableSpec) error {
	if err := r.ensureNamespace(ctx, namespace); err != nil {
		return err
	}
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(namespace, t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert applies req in one transaction and returns inserted+updated rows.
//
// Within one request, a key that appears twice is inserted by the first
// tuple and then updated by the later one (last write wins).
func (r *Repo) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if err := r.ensureNamespace(ctx, req.Namespace); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range storage.BatchRows(req.Rows, len(req.Columns)+1, maxParams) {
		q, args := buildUpsertSQL(req, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: upsert %s: %w", qualified(req.Namespace, req.Table), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("sqlite: rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", qualified(req.Namespace, req.Table), err)
	}
	return total, nil
}

// buildUpsertSQL renders INSERT ... ON CONFLICT DO UPDATE ... WHERE for one
// chunk. The load timestamp is bound per row as RFC3339Nano text.
func buildUpsertSQL(req storage.UpsertRequest, rows [][]any) (string, []any) {
	cols := append(append([]string(nil), req.Columns...), storage.LoadedAtColumn)
	loadedAt := formatSQLiteTime(req.LoadedAt)

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualified(req.Namespace, req.Table))
	b.WriteString(" AS t (")
	b.WriteString(joinIdentList(cols))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
		args = append(args, loadedAt)
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(sqlIdent(req.PrimaryKey))
	b.WriteString(")")

	nonKey := req.NonKeyColumns()
	if len(nonKey) == 0 {
		b.WriteString(" DO NOTHING;")
		return b.String(), args
	}

	set := make([]string, 0, len(nonKey)+1)
	where := make([]string, 0, len(nonKey))
	for _, c := range nonKey {
		set = append(set, fmt.Sprintf("%s = excluded.%s", sqlIdent(c), sqlIdent(c)))
		where = append(where, fmt.Sprintf("t.%s IS NOT excluded.%s", sqlIdent(c), sqlIdent(c)))
	}
	set = append(set, fmt.Sprintf("%s = excluded.%s", sqlIdent(storage.LoadedAtColumn), sqlIdent(storage.LoadedAtColumn)))

	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(set, ", "))
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(where, " OR "))
	b.WriteString(";")
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func qualified(namespace, table string) string {
	if namespace == "" {
		return sqlIdent(table)
	}
	return sqlIdent(namespace) + "." + sqlIdent(table)
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func buildCreateTableSQL(namespace string, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s: no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := columnType(c)
		if err != nil {
			return "", fmt.Errorf("sqlite: table %s: %w", t.Name, err)
		}
		// An INTEGER PRIMARY KEY aliases the rowid and turns NULL keys into
		// fresh ids; INT keeps integer affinity without the alias.
		if c.Name == t.PrimaryKey && typ == "INTEGER" {
			typ = "INT"
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		switch {
		case c.Name == t.PrimaryKey:
			col += " NOT NULL PRIMARY KEY"
		case c.NotNull:
			col += " NOT NULL"
		}
		if c.DefaultNow {
			col += ` DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))`
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", qualified(namespace, t.Name), strings.Join(parts, ",\n  ")), nil
}

// columnType maps a logical type to a SQLite declared type. Declared types
// only pick a column affinity.
func columnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeVarchar:
		if c.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Size), nil
		}
		return "TEXT", nil
	case storage.TypeText, storage.TypeJSON, storage.TypeTimestamp, storage.TypeTimestampTZ:
		return "TEXT", nil
	case storage.TypeDecimal:
		if c.Size > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Size, c.Scale), nil
		}
		return "NUMERIC", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// Timestamps are stored as TEXT for reliable scanning with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
