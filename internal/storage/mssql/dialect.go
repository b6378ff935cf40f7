package mssql

import "strconv"

// Dialect implements storage.Dialect for SQL Server.
type Dialect struct{}

const (
	// SQL Server accepts at most 2100 parameters per request.
	maxParams = 2100
	// A table value constructor is limited to 1000 rows.
	maxInsertRows = 1000
)

func (Dialect) Name() string                   { return Kind }
func (Dialect) QuoteIdent(name string) string  { return mssqlIdent(name) }
func (Dialect) Placeholder(n int) string       { return "@p" + strconv.Itoa(n) }
func (Dialect) MaxParams() int                 { return maxParams }
func (Dialect) MaxInsertRows() int             { return maxInsertRows }
func (Dialect) TopClause(n int) string         { return "TOP (" + strconv.Itoa(n) + ")" }
func (Dialect) LimitClause(int) string         { return "" }
func (Dialect) NumericExpr(expr string) string { return "TRY_CAST(" + expr + " AS FLOAT)" }
