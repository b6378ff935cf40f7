// Package mssql implements storage.Store for Microsoft SQL Server.
//
// Dynamic columns are NVARCHAR(MAX) so any uploaded text fits. The synthetic
// row id is an INT IDENTITY primary key.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"powerdash/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "mssql"

// Store implements storage.Store for SQL Server.
type Store struct {
	db dbConn
}

func init() {
	storage.Register(Kind, New)
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity
// via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	n := cfg.MaxOpenConns
	if n <= 0 {
		n = 64
	}
	raw.SetMaxOpenConns(n)
	raw.SetMaxIdleConns(n)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Store{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this store.
func (r *Store) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Store) Dialect() storage.Dialect { return Dialect{} }

func (r *Store) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, buildDropTableSQL(table)); err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", table, err)
	}
	return nil
}

func (r *Store) CreateTable(ctx context.Context, table string, columns []string) error {
	if _, err := r.db.ExecContext(ctx, buildCreateTableSQL(table, columns)); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

func (r *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args, err := buildBulkInsertSQL(table, columns, rows)
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

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.ds_1" -> [dbo].[ds_1]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// objectName renders a table name as an N'' literal for OBJECT_ID.
func objectName(table string) string {
	return "N'" + strings.ReplaceAll(mssqlTableIdent(table), "'", "''") + "'"
}

func buildDropTableSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NOT NULL DROP TABLE %s;", objectName(table), mssqlTableIdent(table))
}

func buildCreateTableSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" ([id] INT IDENTITY(1,1) PRIMARY KEY")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" NVARCHAR(MAX) NULL")
	}
	b.WriteString(");")
	return b.String()
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows
// using @pN placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("mssql: insert into %s: no columns", table)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mssql: insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
