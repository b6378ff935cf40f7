package postgres

import "strconv"

// Dialect implements storage.Dialect for Postgres.
type Dialect struct{}

// The wire protocol encodes the parameter count as an int16.
const maxParams = 65535

// numericRE matches the text values NumericExpr is willing to cast. Casting
// anything else would abort the whole query.
const numericRE = `'^\s*[-+]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][-+]?[0-9]+)?\s*$'`

func (Dialect) Name() string                  { return Kind }
func (Dialect) QuoteIdent(name string) string { return pgIdent(name) }
func (Dialect) Placeholder(n int) string      { return "$" + strconv.Itoa(n) }
func (Dialect) MaxParams() int                { return maxParams }
func (Dialect) MaxInsertRows() int            { return 0 }
func (Dialect) TopClause(int) string          { return "" }
func (Dialect) LimitClause(n int) string      { return "LIMIT " + strconv.Itoa(n) }

func (Dialect) NumericExpr(expr string) string {
	return "CASE WHEN " + expr + " ~ " + numericRE + " THEN CAST(" + expr + " AS DOUBLE PRECISION) END"
}
