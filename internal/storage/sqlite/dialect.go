package sqlite

import "strconv"

// Dialect implements storage.Dialect for SQLite.
type Dialect struct{}

// maxVariables is SQLITE_MAX_VARIABLE_NUMBER for builds since 3.32.
const maxVariables = 32766

func (Dialect) Name() string                  { return Kind }
func (Dialect) QuoteIdent(name string) string { return sqlIdent(name) }
func (Dialect) Placeholder(int) string        { return "?" }
func (Dialect) MaxParams() int                { return maxVariables }
func (Dialect) MaxInsertRows() int            { return 0 }
func (Dialect) TopClause(int) string          { return "" }
func (Dialect) LimitClause(n int) string      { return "LIMIT " + strconv.Itoa(n) }

// NumericExpr casts to REAL when the trimmed text holds a digit and nothing
// but number characters. Anything else becomes NULL, as on the other
// backends; a bare CAST would turn "n/a" into 0.
func (Dialect) NumericExpr(expr string) string {
	t := "trim(" + expr + ")"
	return "CASE WHEN " + t + " GLOB '*[0-9]*' AND " + t + " NOT GLOB '*[^0-9.eE+-]*' THEN CAST(" + t + " AS REAL) END"
}
