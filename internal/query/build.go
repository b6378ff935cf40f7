// Package query builds and runs the single parameterized aggregation shape
// the dashboard needs:
//
//	SELECT dim[, group], AGG(measure) AS value
//	FROM table [WHERE ...]
//	GROUP BY dim[, group] ORDER BY dim[, group]
//
// Identifiers only reach SQL text after resolveColumn accepted them; every
// filter value is a bound parameter.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"powerdash/internal/schema"
	"powerdash/internal/storage"
)

// DefaultMaxRows bounds every aggregation result.
const DefaultMaxRows = 1000

var (
	ErrUnknownColumn      = errors.New("query: unknown column")
	ErrUnknownAggregation = errors.New("query: unknown aggregation")
	ErrNotReady           = errors.New("query: data source not ready")
)

// UnknownColumnError names the column that failed resolution.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("query: unknown column %q", e.Column)
}

func (e *UnknownColumnError) Is(target error) bool { return target == ErrUnknownColumn }

// Request describes one aggregation.
type Request struct {
	DataSourceID string         `json:"-"`
	Dimension    string         `json:"dimension"`
	Measure      string         `json:"measure"`
	Aggregation  string         `json:"aggregation,omitempty"`
	GroupBy      string         `json:"groupBy,omitempty"`
	Filters      map[string]any `json:"filters,omitempty"`
}

type aggregation string

const (
	aggSum   aggregation = "SUM"
	aggAvg   aggregation = "AVG"
	aggCount aggregation = "COUNT"
)

func parseAggregation(s string) (aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sum":
		return aggSum, nil
	case "avg", "average", "mean":
		return aggAvg, nil
	case "count":
		return aggCount, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAggregation, s)
}

// resolveColumn is the only path from user input to a column identifier. It
// accepts either the stored name or anything that normalizes to it.
func resolveColumn(cols []schema.ColumnDescriptor, name string) (string, error) {
	c, ok := schema.Lookup(cols, name)
	if !ok {
		c, ok = schema.Lookup(cols, schema.Normalize(name))
	}
	if !ok || storage.ValidateIdent(c.Name) != nil {
		return "", &UnknownColumnError{Column: name}
	}
	return c.Name, nil
}

// Build renders req against table. It fails before producing any SQL when a
// column or the aggregation kind is unknown.
func Build(table string, cols []schema.ColumnDescriptor, req Request, d storage.Dialect) (storage.Statement, error) {
	return build(table, cols, req, d, DefaultMaxRows)
}

func build(table string, cols []schema.ColumnDescriptor, req Request, d storage.Dialect, maxRows int) (storage.Statement, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return storage.Statement{}, err
	}
	dim, err := resolveColumn(cols, req.Dimension)
	if err != nil {
		return storage.Statement{}, err
	}
	measure, err := resolveColumn(cols, req.Measure)
	if err != nil {
		return storage.Statement{}, err
	}
	var group string
	if req.GroupBy != "" {
		if group, err = resolveColumn(cols, req.GroupBy); err != nil {
			return storage.Statement{}, err
		}
	}
	agg, err := parseAggregation(req.Aggregation)
	if err != nil {
		return storage.Statement{}, err
	}

	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var (
		where []string
		args  []any
	)
	for _, k := range keys {
		col, err := resolveColumn(cols, k)
		if err != nil {
			return storage.Statement{}, err
		}
		pred, vals := filterPredicate(d, d.QuoteIdent(col), req.Filters[k], len(args))
		where = append(where, pred)
		args = append(args, vals...)
	}

	groupCols := []string{d.QuoteIdent(dim)}
	selectCols := []string{d.QuoteIdent(dim) + " AS dimension"}
	if group != "" {
		groupCols = append(groupCols, d.QuoteIdent(group))
		selectCols = append(selectCols, d.QuoteIdent(group)+" AS group_by")
	}

	m := d.QuoteIdent(measure)
	if agg != aggCount {
		m = d.NumericExpr(m)
	}
	selectCols = append(selectCols, string(agg)+"("+m+") AS value")

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if top := d.TopClause(maxRows); top != "" {
		b.WriteString(top)
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(selectCols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteIdent(table))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" GROUP BY ")
	b.WriteString(strings.Join(groupCols, ", "))
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(groupCols, ", "))
	if lim := d.LimitClause(maxRows); lim != "" {
		b.WriteString(" ")
		b.WriteString(lim)
	}
	return storage.Statement{SQL: b.String(), Args: args}, nil
}

// filterPredicate renders one filter. offset is the number of arguments
// already bound.
func filterPredicate(d storage.Dialect, col string, v any, offset int) (string, []any) {
	list, isList := asList(v)
	if !isList {
		s, ok := schema.CellText(v)
		if !ok {
			return col + " IS NULL", nil
		}
		return col + " = " + d.Placeholder(offset+1), []any{s}
	}
	if len(list) == 0 {
		return "1 = 0", nil
	}
	marks := make([]string, 0, len(list))
	args := make([]any, 0, len(list))
	for _, item := range list {
		s, ok := schema.CellText(item)
		if !ok {
			continue
		}
		args = append(args, s)
		marks = append(marks, d.Placeholder(offset+len(args)))
	}
	if len(args) == 0 {
		return "1 = 0", nil
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// BuildDistinctCount counts distinct non-null values of column.
func BuildDistinctCount(table string, cols []schema.ColumnDescriptor, column string, d storage.Dialect) (storage.Statement, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return storage.Statement{}, err
	}
	col, err := resolveColumn(cols, column)
	if err != nil {
		return storage.Statement{}, err
	}
	return storage.Statement{
		SQL: "SELECT COUNT(DISTINCT " + d.QuoteIdent(col) + ") FROM " + d.QuoteIdent(table),
	}, nil
}
