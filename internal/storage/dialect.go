package storage

// Dialect captures the SQL differences query builders need to know about.
type Dialect interface {
	// Name is the backend kind, e.g. "sqlite".
	Name() string
	// QuoteIdent quotes a validated identifier.
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// MaxParams is the hard bound-parameter ceiling of one statement.
	MaxParams() int
	// MaxInsertRows caps rows per VALUES list; 0 means no cap.
	MaxInsertRows() int
	// NumericExpr converts a text expression to a number, yielding NULL (or
	// zero on sqlite) for values that are not numeric.
	NumericExpr(expr string) string
	// TopClause and LimitClause bound a SELECT. One of them is empty.
	TopClause(n int) string
	LimitClause(n int) string
}
