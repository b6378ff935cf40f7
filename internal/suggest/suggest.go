// Package suggest proposes chart configurations from a column schema.
package suggest

import (
	"slices"
	"strings"

	"powerdash/internal/schema"
)

// Chart types. A distribution is drawn as a Bar with count aggregation.
const (
	Line    = "line"
	Bar     = "bar"
	Scatter = "scatter"
	Pie     = "pie"
)

// Confidence per rule.
const (
	ConfidenceLine      = 0.85
	ConfidenceBar       = 0.80
	ConfidenceScatter   = 0.75
	ConfidencePie       = 0.70
	ConfidenceHistogram = 0.65
)

// DefaultMaxPieCardinality is the distinct-value bound above which a pie
// chart is not suggested.
const DefaultMaxPieCardinality = 20

// Config binds a chart to columns. Aggregation is empty for raw scatter points.
type Config struct {
	XAxis       string `json:"xAxis"`
	YAxis       string `json:"yAxis"`
	GroupBy     string `json:"groupBy,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
	Title       string `json:"title"`
}

// Suggestion is one proposed chart.
type Suggestion struct {
	ChartType  string  `json:"chartType"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Config     Config  `json:"config"`
}

// Options tunes Suggest.
type Options struct {
	// MaxPieCardinality <= 0 means DefaultMaxPieCardinality.
	MaxPieCardinality int
	// Cardinality reports the distinct-value count of a string column. ok is
	// false when unknown, in which case the pie suggestion is kept.
	Cardinality func(column string) (n int64, ok bool)
}

// Suggest applies every rule, drops duplicates and orders by confidence.
// It never fails; a schema without qualifying columns yields an empty list.
func Suggest(cols []schema.ColumnDescriptor, opts Options) []Suggestion {
	maxPie := opts.MaxPieCardinality
	if maxPie <= 0 {
		maxPie = DefaultMaxPieCardinality
	}

	var dates, numerics, strs []schema.ColumnDescriptor
	for _, c := range cols {
		switch c.Type {
		case schema.Date:
			dates = append(dates, c)
		case schema.Numeric:
			numerics = append(numerics, c)
		default:
			strs = append(strs, c)
		}
	}

	var out []Suggestion
	seen := map[string]bool{}
	add := func(s Suggestion, columns ...string) {
		key := s.ChartType + ":" + strings.Join(columns, ",")
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	if len(dates) > 0 {
		d := dates[0]
		for _, n := range numerics {
			title := label(n) + " over " + label(d)
			add(Suggestion{
				ChartType:  Line,
				Label:      title,
				Confidence: ConfidenceLine,
				Config:     Config{XAxis: d.Name, YAxis: n.Name, Aggregation: "sum", Title: title},
			}, d.Name, n.Name)
		}
	}

	for _, s := range strs {
		for _, n := range numerics {
			title := label(n) + " by " + label(s)
			add(Suggestion{
				ChartType:  Bar,
				Label:      title,
				Confidence: ConfidenceBar,
				Config:     Config{XAxis: s.Name, YAxis: n.Name, Aggregation: "sum", Title: title},
			}, s.Name, n.Name)
		}
	}

	if len(numerics) >= 2 {
		a, b := numerics[0], numerics[1]
		title := label(b) + " vs " + label(a)
		add(Suggestion{
			ChartType:  Scatter,
			Label:      title,
			Confidence: ConfidenceScatter,
			Config:     Config{XAxis: a.Name, YAxis: b.Name, Title: title},
		}, a.Name, b.Name)
	}

	for _, s := range strs {
		if opts.Cardinality != nil {
			if n, ok := opts.Cardinality(s.Name); ok && n > int64(maxPie) {
				continue
			}
		}
		for _, n := range numerics {
			title := label(n) + " share by " + label(s)
			add(Suggestion{
				ChartType:  Pie,
				Label:      title,
				Confidence: ConfidencePie,
				Config:     Config{XAxis: s.Name, YAxis: n.Name, Aggregation: "sum", Title: title},
			}, s.Name, n.Name)
		}
	}

	// Keyed by the single column, so it never collides with a string x numeric bar.
	for _, n := range numerics {
		title := label(n) + " distribution (count)"
		add(Suggestion{
			ChartType:  Bar,
			Label:      title,
			Confidence: ConfidenceHistogram,
			Config:     Config{XAxis: n.Name, YAxis: n.Name, Aggregation: "count", Title: title},
		}, n.Name)
	}

	slices.SortStableFunc(out, func(a, b Suggestion) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	if out == nil {
		out = []Suggestion{}
	}
	return out
}

func label(c schema.ColumnDescriptor) string {
	switch {
	case c.Label != "":
		return c.Label
	case c.Header != "":
		return c.Header
	}
	return c.Name
}
