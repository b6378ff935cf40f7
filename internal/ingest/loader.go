package ingest

import (
	"context"
	"fmt"

	"powerdash/internal/schema"
	"powerdash/internal/storage"
)

// DefaultParamCeiling is the portable bound-parameter limit per statement.
const DefaultParamCeiling = 999

// LoadResult summarizes a load.
type LoadResult struct {
	Rows             int64
	Statements       int
	RowsPerStatement int
}

// Loader inserts rows in chunks sized so that no statement binds more than
// ParamCeiling parameters.
type Loader struct {
	Store        storage.Store
	ParamCeiling int // <= 0 means DefaultParamCeiling
}

// RowsPerStatement returns how many rows of width k fit in one statement on
// the given dialect.
func (l Loader) RowsPerStatement(d storage.Dialect, k int) (int, error) {
	if k <= 0 {
		return 0, fmt.Errorf("%w: no columns to load", ErrConfiguration)
	}
	ceiling := l.ParamCeiling
	if ceiling <= 0 {
		ceiling = DefaultParamCeiling
	}
	if d != nil && d.MaxParams() > 0 {
		ceiling = min(ceiling, d.MaxParams())
	}
	if k > ceiling {
		return 0, fmt.Errorf("%w: %d columns exceed the %d parameter ceiling", ErrTooManyColumns, k, ceiling)
	}
	n := ceiling / k
	if d != nil && d.MaxInsertRows() > 0 {
		n = min(n, d.MaxInsertRows())
	}
	return n, nil
}

// Load writes rows into table. Chunks run sequentially; ctx is checked
// before each one.
func (l Loader) Load(ctx context.Context, table string, cols []schema.ColumnDescriptor, rows []schema.Row) (LoadResult, error) {
	per, err := l.RowsPerStatement(l.Store.Dialect(), len(cols))
	if err != nil {
		return LoadResult{}, err
	}

	names := schema.Names(cols)
	res := LoadResult{RowsPerStatement: per}

	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		if err := ctx.Err(); err != nil {
			return res, &LoadError{Table: table, FirstRow: start + 1, LastRow: end, Err: err}
		}

		chunk := make([][]any, 0, end-start)
		for _, r := range rows[start:end] {
			chunk = append(chunk, bindRow(r, cols))
		}

		n, err := l.Store.InsertRows(ctx, table, names, chunk)
		if err != nil {
			return res, &LoadError{Table: table, FirstRow: start + 1, LastRow: end, Err: err}
		}
		res.Rows += n
		res.Statements++
	}
	return res, nil
}

func bindRow(r schema.Row, cols []schema.ColumnDescriptor) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		if s, ok := schema.CellText(r[c.Header]); ok {
			out[i] = s
		}
	}
	return out
}
