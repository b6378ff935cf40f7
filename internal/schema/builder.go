package schema

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// BuildOptions tunes Build. Zero values select the defaults.
type BuildOptions struct {
	// SampleRows is the number of leading rows used for type inference.
	SampleRows int
	// SampleValues caps the distinct raw values kept per descriptor.
	SampleValues int
	// Reserved names are treated as already taken, e.g. the synthetic row id.
	Reserved []string
	// MaxNameLen caps identifier length (Postgres truncates at 63).
	MaxNameLen int
}

const (
	defaultSampleValues = 5
	defaultMaxNameLen   = 63
)

// ReservedID is the synthetic auto-increment column of every dynamic table.
const ReservedID = "id"

func (o BuildOptions) withDefaults() BuildOptions {
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.SampleValues <= 0 {
		o.SampleValues = defaultSampleValues
	}
	if o.Reserved == nil {
		o.Reserved = []string{ReservedID}
	}
	if o.MaxNameLen <= 0 {
		o.MaxNameLen = defaultMaxNameLen
	}
	return o
}

// Build derives the ordered column descriptors of a sheet.
//
// headers gives the column order; when empty it is derived from rows with
// HeadersFromRows. Build fails with ErrEmptySheet when rows is empty or no
// header can be found. Normalized names that collide (with each other or with
// a reserved name) get a numeric suffix: "mw", "mw_2", "mw_3".
func Build(headers []string, rows []Row, opts BuildOptions) ([]ColumnDescriptor, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	if len(headers) == 0 {
		headers = HeadersFromRows(rows)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrEmptySheet)
	}
	opts = opts.withDefaults()

	taken := make(map[string]bool, len(headers)+len(opts.Reserved))
	for _, r := range opts.Reserved {
		taken[r] = true
	}

	out := make([]ColumnDescriptor, 0, len(headers))
	for i, h := range headers {
		base := truncateName(Normalize(h), opts.MaxNameLen)
		if strings.Trim(base, "_") == "" {
			base = "column_" + strconv.Itoa(i+1)
		}
		name := uniqueName(base, taken, opts.MaxNameLen)
		taken[name] = true

		sample := SampleColumn(rows, h, opts.SampleRows)
		typ := InferType(sample)

		label := strings.TrimSpace(h)
		if label == "" {
			label = name
		}
		out = append(out, ColumnDescriptor{
			Header:     h,
			Name:       name,
			Type:       typ,
			Label:      label,
			Samples:    distinctSamples(sample, opts.SampleValues),
			Filterable: typ != Numeric,
		})
	}
	return out, nil
}

// uniqueName returns base, or base_N with the smallest N >= 2 not yet taken.
func uniqueName(base string, taken map[string]bool, max int) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		cand := truncateName(base, max-len(suffix)) + suffix
		if !taken[cand] {
			return cand
		}
	}
}

// HeadersFromRows returns every key seen across rows in first-seen order.
// Keys within one row are visited in sorted order because Go maps carry none.
func HeadersFromRows(rows []Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for _, k := range slices.Sorted(maps.Keys(r)) {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func distinctSamples(values []any, max int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		s, ok := CellText(v)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}
