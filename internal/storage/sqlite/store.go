// Package sqlite implements storage.Store on modernc.org/sqlite.
//
// Every dynamic column is declared TEXT. SQLite keeps TEXT affinity for the
// stored values, so numbers round-trip exactly as uploaded and aggregates
// cast at query time.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"powerdash/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

// Store implements storage.Store for SQLite.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register(Kind, New)
}

// New opens the database at cfg.DSN (":memory:" works for tests).
//
// The pool is capped at one connection unless cfg.MaxOpenConns says otherwise:
// SQLite serializes writers anyway, and an in-memory database only lives as
// long as its connection.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	n := cfg.MaxOpenConns
	if n <= 0 {
		n = 1
	}
	db.SetMaxOpenConns(n)
	db.SetMaxIdleConns(n)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (r *Store) Close() { _ = r.db.Close() }

func (r *Store) Dialect() storage.Dialect { return Dialect{} }

func (r *Store) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, buildDropTableSQL(table)); err != nil {
		return fmt.Errorf("sqlite: drop table %s: %w", table, err)
	}
	return nil
}

func (r *Store) CreateTable(ctx context.Context, table string, columns []string) error {
	if _, err := r.db.ExecContext(ctx, buildCreateTableSQL(table, columns)); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", table, err)
	}
	return nil
}

func (r *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args, err := buildInsertSQL(table, columns, rows)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Store) Query(ctx context.Context, stmt storage.Statement) ([][]any, error) {
	rows, err := r.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, storage.NormalizeRow(vals))
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildDropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqlIdent(table)
}

// buildCreateTableSQL declares the synthetic row id plus one TEXT column per
// name. Columns are nullable so blank cells can be stored as NULL.
func buildCreateTableSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
		b.WriteString(" TEXT")
	}
	b.WriteString(")")
	return b.String()
}

// buildInsertSQL builds one multi-row INSERT with "?" placeholders. It is pure
// so it can be unit tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("sqlite: insert into %s: no columns", table)
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("sqlite: insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}
