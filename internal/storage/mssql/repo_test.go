package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elt/internal/storage"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

type fakeTx struct {
	execs      []string
	execErr    error
	affected   int64
	committed  bool
	rolledBack bool
}

func (t *fakeTx) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	t.execs = append(t.execs, q)
	if t.execErr != nil {
		return nil, t.execErr
	}
	return fakeResult{n: t.affected}, nil
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.committed {
		return sql.ErrTxDone
	}
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	execs []string
	tx    *fakeTx
}

func (d *fakeDB) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	d.execs = append(d.execs, q)
	return fakeResult{}, nil
}

func (d *fakeDB) BeginTx(context.Context, *sql.TxOptions) (txConn, error) {
	return d.tx, nil
}

func (d *fakeDB) Close() error { return nil }

func usersRequest(rows ...[]any) storage.UpsertRequest {
	return storage.UpsertRequest{
		Namespace:  "bronze",
		Table:      "users",
		PrimaryKey: "id",
		Columns:    []string{"id", "email"},
		Rows:       rows,
		LoadedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestBuildMergeSQL(t *testing.T) {
	t.Parallel()

	req := usersRequest([]any{1, "a@x"}, []any{2, "b@x"})
	q, args := buildMergeSQL(req, req.Rows)

	want := "MERGE INTO [bronze].[users] WITH (HOLDLOCK) AS t USING (VALUES (@p1, @p2), (@p3, @p4)) AS s ([id], [email]) " +
		"ON t.[id] = s.[id] " +
		"WHEN MATCHED AND EXISTS (SELECT s.[email] EXCEPT SELECT t.[email]) THEN UPDATE SET t.[email] = s.[email], t.[_loaded_at] = @p5 " +
		"WHEN NOT MATCHED BY TARGET THEN INSERT ([id], [email], [_loaded_at]) VALUES (s.[id], s.[email], @p5);"
	assert.Equal(t, want, q)
	assert.Equal(t, []any{1, "a@x", 2, "b@x", req.LoadedAt}, args)
}

func TestBuildMergeSQL_KeyOnly(t *testing.T) {
	t.Parallel()

	req := storage.UpsertRequest{
		Table: "tags", PrimaryKey: "id", Columns: []string{"id"},
		Rows: [][]any{{1}}, LoadedAt: time.Unix(0, 0).UTC(),
	}
	q, _ := buildMergeSQL(req, req.Rows)
	assert.NotContains(t, q, "WHEN MATCHED")
	assert.True(t, strings.HasPrefix(q, "MERGE INTO [tags] "))
}

func TestBuildCreateTableSQL_Bronze(t *testing.T) {
	t.Parallel()

	for _, spec := range storage.BronzeTables() {
		ddl, err := buildCreateTableSQL("bronze", spec)
		require.NoError(t, err)
		assert.Contains(t, ddl, "IF OBJECT_ID(N'bronze."+spec.Name+"', N'U') IS NULL")
		assert.Contains(t, ddl, "[id] INT NOT NULL PRIMARY KEY")
		assert.Contains(t, ddl, "[_loaded_at] DATETIMEOFFSET(3) NOT NULL DEFAULT SYSDATETIMEOFFSET()")
	}

	ddl, err := buildCreateTableSQL("bronze", storage.BronzeTables()[1])
	require.NoError(t, err)
	assert.Contains(t, ddl, "[price] DECIMAL(10,2)")
	assert.Contains(t, ddl, "[description] NVARCHAR(MAX)")
}

func TestBuildCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	_, err := buildCreateTableSQL("bronze", storage.TableSpec{})
	assert.Error(t, err)

	_, err = buildCreateTableSQL("bronze", storage.TableSpec{Name: "t"})
	assert.Error(t, err)

	_, err = buildCreateTableSQL("bronze", storage.TableSpec{
		Name:    "t",
		Columns: []storage.ColumnSpec{{Name: "x", Type: "blob"}},
	})
	assert.Error(t, err)
}

func TestBuildCreateSchemaSQL(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"IF SCHEMA_ID(N'bronze') IS NULL EXEC(N'CREATE SCHEMA [bronze]');",
		buildCreateSchemaSQL("bronze"),
	)
	assert.Equal(t,
		"IF SCHEMA_ID(N'o''k') IS NULL EXEC(N'CREATE SCHEMA [o''k]');",
		buildCreateSchemaSQL("o'k"),
	)
}

func TestMssqlTableIdent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[bronze].[users]", mssqlTableIdent("bronze.users"))
	assert.Equal(t, "[a]]b]", mssqlIdent("a]b"))
}

func TestEnsureSchema_ExecsSchemaThenTables(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	r := &Repo{db: db}
	require.NoError(t, r.EnsureSchema(context.Background(), "bronze", storage.BronzeTables()))

	require.Len(t, db.execs, 4)
	assert.Contains(t, db.execs[0], "CREATE SCHEMA")
	assert.Contains(t, db.execs[1], "[bronze].[users]")
	assert.Contains(t, db.execs[3], "[bronze].[carts]")
}

func TestUpsert_CommitsAndSumsChunks(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 0, 1500)
	for i := 0; i < 1500; i++ {
		rows = append(rows, []any{i, "e"})
	}
	tx := &fakeTx{affected: 7}
	r := &Repo{db: &fakeDB{tx: tx}}

	n, err := r.Upsert(context.Background(), usersRequest(rows...))
	require.NoError(t, err)

	// 1999 params / 2 columns = 999 rows per chunk.
	assert.Len(t, tx.execs, 2)
	assert.Equal(t, int64(14), n)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestUpsert_RollsBackOnError(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{execErr: errors.New("boom")}
	r := &Repo{db: &fakeDB{tx: tx}}

	n, err := r.Upsert(context.Background(), usersRequest([]any{1, "a"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge [bronze].[users]")
	assert.Equal(t, int64(0), n)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestUpsert_EmptyAndInvalid(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	r := &Repo{db: &fakeDB{tx: tx}}

	n, err := r.Upsert(context.Background(), usersRequest())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, tx.execs)

	req := usersRequest([]any{1})
	_, err = r.Upsert(context.Background(), req)
	assert.Error(t, err)
}
