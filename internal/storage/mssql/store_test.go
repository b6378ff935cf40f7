package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

// fakeDB records every statement sent through the seam.
type fakeDB struct {
	execs   []string
	args    [][]any
	execErr error
	closed  int
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{n: int64(strings.Count(query, "),") + 1)}, nil
}

func (f *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeDB: query not supported")
}

func (f *fakeDB) Close() error { f.closed++; return nil }

func TestBuildBulkInsertSQL(t *testing.T) {
	t.Parallel()

	q, args, err := buildBulkInsertSQL("ds_1", []string{"a", "b"}, [][]any{{"1", "2"}, {"3", nil}})
	if err != nil {
		t.Fatalf("buildBulkInsertSQL: %v", err)
	}
	want := "INSERT INTO [ds_1] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("sql =\n%s\nwant\n%s", q, want)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("args = %#v", args)
	}
}

func TestBuildDDL(t *testing.T) {
	t.Parallel()

	if got, want := buildDropTableSQL("ds_1"), "IF OBJECT_ID(N'[ds_1]', N'U') IS NOT NULL DROP TABLE [ds_1];"; got != want {
		t.Fatalf("drop =\n%s\nwant\n%s", got, want)
	}
	got := buildCreateTableSQL("ds_1", []string{"mw"})
	want := "CREATE TABLE [ds_1] ([id] INT IDENTITY(1,1) PRIMARY KEY, [mw] NVARCHAR(MAX) NULL);"
	if got != want {
		t.Fatalf("create =\n%s\nwant\n%s", got, want)
	}
}

func TestIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := mssqlIdent("a]b"); got != "[a]]b]" {
		t.Fatalf("mssqlIdent = %s", got)
	}
	if got := mssqlTableIdent("dbo.ds_1"); got != "[dbo].[ds_1]" {
		t.Fatalf("mssqlTableIdent = %s", got)
	}
}

func TestStore_ExecPathsUseSeam(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := &fakeDB{}
	st := &Store{db: db}

	if err := st.DropTable(ctx, "ds_1"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if err := st.CreateTable(ctx, "ds_1", []string{"a"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	n, err := st.InsertRows(ctx, "ds_1", []string{"a"}, [][]any{{"x"}, {"y"}})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("InsertRows n = %d, want 2", n)
	}
	if n, err := st.InsertRows(ctx, "ds_1", []string{"a"}, nil); err != nil || n != 0 {
		t.Fatalf("InsertRows(empty) = %d, %v", n, err)
	}
	if len(db.execs) != 3 {
		t.Fatalf("execs = %d, want 3 (empty insert must not hit the db)", len(db.execs))
	}
	st.Close()
	if db.closed != 1 {
		t.Fatalf("closed = %d", db.closed)
	}
}

func TestStore_WrapsExecErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	st := &Store{db: &fakeDB{execErr: boom}}
	if err := st.DropTable(context.Background(), "ds_1"); !errors.Is(err, boom) || !strings.Contains(err.Error(), "ds_1") {
		t.Fatalf("DropTable err = %v", err)
	}
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if d.Placeholder(2) != "@p2" || d.TopClause(1000) != "TOP (1000)" || d.LimitClause(1000) != "" {
		t.Fatalf("unexpected dialect output")
	}
	if d.MaxInsertRows() != 1000 || d.MaxParams() != 2100 {
		t.Fatalf("limits = %d/%d", d.MaxInsertRows(), d.MaxParams())
	}
}
