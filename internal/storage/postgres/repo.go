package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"elt/internal/storage"
)

// maxParams is the Postgres bind-parameter limit per statement.
const maxParams = 65535

/*
Repo implements storage.Repository for Postgres.

Upserts use a single INSERT ... ON CONFLICT DO UPDATE per chunk whose WHERE
clause compares every non-key column with IS DISTINCT FROM, so unchanged rows
are neither rewritten nor counted and keep their _loaded_at. All chunks of a
request share one transaction.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureSchema creates the namespace and tables if they do not exist.
//
// This method is idempotent.
func (r *Repo) EnsureSchema(ctx context.Context, namespace string, tables []storage.TableSpec) error {
	if namespace != "" {
		if _, err := r.pool.Exec(ctx, buildCreateSchemaSQL(namespace)); err != nil {
			return fmt.Errorf("postgres: create schema %s: %w", namespace, err)
		}
	}
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(namespace, t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert applies req in one transaction and returns inserted+updated rows.
func (r *Repo) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, chunk := range storage.BatchRows(req.Rows, len(req.Columns)+1, maxParams) {
		sql, args := buildUpsertSQL(req, chunk)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: upsert %s: %w", qualified(req.Namespace, req.Table), err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", qualified(req.Namespace, req.Table), err)
	}
	return total, nil
}

// buildUpsertSQL renders the conditional merge for one chunk of rows.
//
// It is pure so placeholder numbering and the change predicate can be unit
// tested without a database. The load timestamp is bound once per row.
func buildUpsertSQL(req storage.UpsertRequest, rows [][]any) (string, []any) {
	cols := append(append([]string(nil), req.Columns...), storage.LoadedAtColumn)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualified(req.Namespace, req.Table))
	b.WriteString(" AS t (")
	b.WriteString(joinIdents(cols))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteString(")")
		args = append(args, row...)
		args = append(args, req.LoadedAt)
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(req.PrimaryKey))
	b.WriteString(")")

	nonKey := req.NonKeyColumns()
	if len(nonKey) == 0 {
		b.WriteString(" DO NOTHING;")
		return b.String(), args
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range nonKey {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	fmt.Fprintf(&b, ", %s = EXCLUDED.%s", pgIdent(storage.LoadedAtColumn), pgIdent(storage.LoadedAtColumn))

	b.WriteString(" WHERE ")
	for i, c := range nonKey {
		if i > 0 {
			b.WriteString(" OR ")
		}
		fmt.Fprintf(&b, "t.%s IS DISTINCT FROM EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

func buildCreateSchemaSQL(namespace string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(namespace))
}

// buildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for t.
//
// The primary key is declared inline on its column.
func buildCreateTableSQL(namespace string, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("postgres: table %s: no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := buildColumnDef(c, c.Name == t.PrimaryKey)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", qualified(namespace, t.Name), strings.Join(defs, ", ")), nil
}

func buildColumnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := columnType(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if primaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultNow {
		b.WriteString(" DEFAULT NOW()")
	}
	return b.String(), nil
}

// columnType maps a logical column type to Postgres.
func columnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeVarchar:
		if c.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Size), nil
		}
		return "VARCHAR", nil
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeJSON:
		return "JSONB", nil
	case storage.TypeDecimal:
		if c.Size > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Size, c.Scale), nil
		}
		return "NUMERIC", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	case storage.TypeTimestampTZ:
		return "TIMESTAMPTZ", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(namespace, table string) string {
	if namespace == "" {
		return pgIdent(table)
	}
	return pgIdent(namespace) + "." + pgIdent(table)
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
