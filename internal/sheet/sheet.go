// Package sheet decodes uploaded files into a single table of rows keyed by
// header text. CSV/TSV, JSON, XLSX and HTML tables are supported.
package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"powerdash/internal/schema"
)

// Formats understood by Decode.
const (
	CSV  = "csv"
	TSV  = "tsv"
	JSON = "json"
	XLSX = "xlsx"
	HTML = "html"
)

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("sheet: unsupported format")

// Sheet is one decoded table. Headers keep source order and are unique;
// every Row is keyed by them.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []schema.Row
}

// Options tunes decoding. Zero values are sensible defaults.
type Options struct {
	// Sheet picks the XLSX worksheet by name, or the HTML table by 1-based
	// index or element id. Empty means the first non-empty one.
	Sheet string
	// Comma overrides the CSV delimiter.
	Comma rune
	// LazyQuotes relaxes CSV quote handling.
	LazyQuotes bool
	// TableSelector is the CSS selector for HTML tables (default "table").
	TableSelector string
	// ArraySeparator joins JSON string arrays into one cell (default ",").
	ArraySeparator string
	// MaxRows stops decoding after that many data rows; 0 means no limit.
	MaxRows int
}

// Decode reads r as format.
func Decode(ctx context.Context, format string, r io.Reader, opts Options) (*Sheet, error) {
	switch strings.ToLower(format) {
	case CSV:
		return decodeCSV(ctx, r, opts)
	case TSV:
		if opts.Comma == 0 {
			opts.Comma = '\t'
		}
		return decodeCSV(ctx, r, opts)
	case JSON:
		return decodeJSON(ctx, r, opts)
	case XLSX:
		return decodeXLSX(ctx, r, opts)
	case HTML:
		return decodeHTML(ctx, r, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// DetectFormat guesses the format from a file name, falling back to sniffing
// the first bytes. It returns "" when nothing matches.
func DetectFormat(name string, sample []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return CSV
	case ".tsv", ".tab":
		return TSV
	case ".json", ".jsonl", ".ndjson":
		return JSON
	case ".xlsx", ".xlsm":
		return XLSX
	case ".html", ".htm":
		return HTML
	}

	if bytes.HasPrefix(sample, []byte("PK\x03\x04")) {
		return XLSX
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(sample, []byte("\uFEFF")))
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '[', '{':
		return JSON
	case '<':
		return HTML
	}
	if line, _, _ := bytes.Cut(trimmed, []byte("\n")); bytes.Count(line, []byte("\t")) > bytes.Count(line, []byte(",")) {
		return TSV
	}
	return CSV
}

// headerSet hands out unique header keys in source order.
type headerSet struct {
	names []string
	seen  map[string]bool
}

func newHeaderSet() *headerSet { return &headerSet{seen: map[string]bool{}} }

// add registers a raw header and returns the key rows should use for it.
// Blank headers become "Column N"; repeats get a numeric suffix.
func (h *headerSet) add(raw string) string {
	name := strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF"))
	if name == "" {
		name = "Column " + strconv.Itoa(len(h.names)+1)
	}
	base := name
	for i := 2; h.seen[name]; i++ {
		name = base + " " + strconv.Itoa(i)
	}
	h.seen[name] = true
	h.names = append(h.names, name)
	return name
}

// addKey registers key if new. Used for formats where every record names
// its own fields.
func (h *headerSet) addKey(key string) {
	if !h.seen[key] {
		h.seen[key] = true
		h.names = append(h.names, key)
	}
}

// rowFromCells pairs cells with headers. Blank cells are dropped; it
// reports false when every cell is blank.
func rowFromCells(headers, cells []string) (schema.Row, bool) {
	row := schema.Row{}
	for i, h := range headers {
		if i >= len(cells) {
			break
		}
		v := strings.TrimSpace(cells[i])
		if v == "" {
			continue
		}
		row[h] = v
	}
	return row, len(row) > 0
}

func full(s *Sheet, opts Options) bool {
	return opts.MaxRows > 0 && len(s.Rows) >= opts.MaxRows
}
