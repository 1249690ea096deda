package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"elt/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameters per request.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Upserts are one MERGE per chunk:
//   - WHEN NOT MATCHED BY TARGET inserts the row.
//   - WHEN MATCHED AND EXISTS (SELECT s.cols EXCEPT SELECT t.cols) updates
//     every non-key column and _loaded_at. EXCEPT treats NULLs as equal, so
//     this is the NULL-safe "any column differs" test.
//   - HOLDLOCK serializes concurrent merges on the same keys.
//
// This package does not import a driver; the "sqlserver" driver must be
// registered elsewhere (see internal/storage/all).
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server database with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureSchema creates the schema and tables when missing.
//
// This method is idempotent and safe to run on every invocation.
func (r *Repo) EnsureSchema(ctx context.Context, namespace string, tables []storage.TableSpec) error {
	if namespace != "" {
		if _, err := r.db.ExecContext(ctx, buildCreateSchemaSQL(namespace)); err != nil {
			return fmt.Errorf("mssql: create schema %s: %w", namespace, err)
		}
	}
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(namespace, t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert applies req in one transaction and returns inserted+updated rows.
//
// A key repeated within one request makes MERGE fail (a target row may be
// matched only once), which rolls back the whole request.
func (r *Repo) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	name := qualified(req.Namespace, req.Table)
	var total int64
	for _, chunk := range storage.BatchRows(req.Rows, len(req.Columns), maxParams-1) {
		q, args := buildMergeSQL(req, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: merge %s: %w", name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mssql: rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", name, err)
	}
	return total, nil
}

// buildMergeSQL renders one MERGE statement for rows.
//
// Parameters are @p1..@pN in row-major order; the load timestamp is bound
// once as the last parameter and referenced from both branches.
func buildMergeSQL(req storage.UpsertRequest, rows [][]any) (string, []any) {
	args := make([]any, 0, len(rows)*len(req.Columns)+1)
	p := 1

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(qualified(req.Namespace, req.Table))
	b.WriteString(" WITH (HOLDLOCK) AS t USING (VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range req.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			p++
		}
		b.WriteString(")")
		args = append(args, row...)
	}
	loadedAt := fmt.Sprintf("@p%d", p)
	args = append(args, req.LoadedAt)

	b.WriteString(") AS s (")
	b.WriteString(joinIdents("", req.Columns))
	b.WriteString(") ON t.")
	b.WriteString(mssqlIdent(req.PrimaryKey))
	b.WriteString(" = s.")
	b.WriteString(mssqlIdent(req.PrimaryKey))

	if nonKey := req.NonKeyColumns(); len(nonKey) > 0 {
		b.WriteString(" WHEN MATCHED AND EXISTS (SELECT ")
		b.WriteString(joinIdents("s.", nonKey))
		b.WriteString(" EXCEPT SELECT ")
		b.WriteString(joinIdents("t.", nonKey))
		b.WriteString(") THEN UPDATE SET ")
		for i, c := range nonKey {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "t.%s = s.%s", mssqlIdent(c), mssqlIdent(c))
		}
		fmt.Fprintf(&b, ", t.%s = %s", mssqlIdent(storage.LoadedAtColumn), loadedAt)
	}

	b.WriteString(" WHEN NOT MATCHED BY TARGET THEN INSERT (")
	b.WriteString(joinIdents("", req.Columns))
	b.WriteString(", ")
	b.WriteString(mssqlIdent(storage.LoadedAtColumn))
	b.WriteString(") VALUES (")
	b.WriteString(joinIdents("s.", req.Columns))
	b.WriteString(", ")
	b.WriteString(loadedAt)
	b.WriteString(");")

	return b.String(), args
}

func buildCreateSchemaSQL(namespace string) string {
	escaped := strings.ReplaceAll(namespace, "'", "''")
	return fmt.Sprintf(
		"IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s');",
		escaped,
		strings.ReplaceAll(mssqlIdent(namespace), "'", "''"),
	)
}

func buildCreateTableSQL(namespace string, t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, c.Name == t.PrimaryKey)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}

	name := t.Name
	if namespace != "" {
		name = namespace + "." + t.Name
	}
	return wrapCreateIfMissing(name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureSchema idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	typ, err := columnType(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if primaryKey {
		b.WriteString(" NOT NULL PRIMARY KEY")
	} else if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultNow {
		b.WriteString(" DEFAULT SYSDATETIMEOFFSET()")
	}
	return b.String(), nil
}

// columnType maps a logical type to SQL Server. JSON is kept as NVARCHAR(MAX)
// text. Source timestamps carry a "Z" suffix, which only DATETIMEOFFSET
// accepts implicitly, so both timestamp kinds map to it.
func columnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeInteger:
		return "INT", nil
	case storage.TypeVarchar:
		if c.Size > 0 && c.Size <= 4000 {
			return fmt.Sprintf("NVARCHAR(%d)", c.Size), nil
		}
		return "NVARCHAR(MAX)", nil
	case storage.TypeText, storage.TypeJSON:
		return "NVARCHAR(MAX)", nil
	case storage.TypeDecimal:
		if c.Size > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", c.Size, c.Scale), nil
		}
		return "DECIMAL(18,4)", nil
	case storage.TypeTimestamp, storage.TypeTimestampTZ:
		return "DATETIMEOFFSET(3)", nil
	default:
		return "", fmt.Errorf("mssql: column %s: unsupported type %q", c.Name, c.Type)
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"bronze.users" -> [bronze].[users]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func qualified(namespace, table string) string {
	if namespace == "" {
		return mssqlIdent(table)
	}
	return mssqlIdent(namespace) + "." + mssqlIdent(table)
}

func joinIdents(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
