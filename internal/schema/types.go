// Package schema turns an uploaded sheet into an ordered list of column
// descriptors: it infers a coarse type per column and derives a SQL-safe
// identifier for every header.
//
// Nothing in this package touches storage. Callers persist the descriptors
// and hand them to the materializer and loader in internal/ingest.
package schema

import "errors"

// Type is the inferred semantic type of a column.
type Type string

const (
	Numeric Type = "numeric"
	Date    Type = "date"
	String  Type = "string"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case Numeric, Date, String:
		return true
	}
	return false
}

// Row is one decoded sheet row keyed by original header text.
type Row map[string]any

// ColumnDescriptor describes one column of a data source.
//
// Name is the only form of a column ever interpolated into generated SQL.
// It is unique within a data source and matches ^[a-z0-9_]+$.
type ColumnDescriptor struct {
	Header     string   `json:"header"`
	Name       string   `json:"name"`
	Type       Type     `json:"type"`
	Label      string   `json:"label,omitempty"`
	Samples    []string `json:"samples,omitempty"`
	Filterable bool     `json:"filterable"`
}

// ErrEmptySheet is returned when a sheet has no data rows (or no columns).
var ErrEmptySheet = errors.New("schema: empty sheet")

// Lookup returns the descriptor whose normalized name is name.
func Lookup(cols []ColumnDescriptor, name string) (ColumnDescriptor, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// Names returns the normalized names of cols in order.
func Names(cols []ColumnDescriptor) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
