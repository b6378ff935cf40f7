package sheet

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func decodeHTML(ctx context.Context, r io.Reader, opts Options) (*Sheet, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("html: parse: %w", err)
	}

	selector := opts.TableSelector
	if selector == "" {
		selector = "table"
	}
	tables := doc.Find(selector)
	if tables.Length() == 0 {
		return &Sheet{Name: "html"}, nil
	}

	if opts.Sheet != "" {
		table, ok := pickTable(tables, opts.Sheet)
		if !ok {
			return nil, fmt.Errorf("%w: table %q", ErrSheetNotFound, opts.Sheet)
		}
		return readTable(ctx, table, opts)
	}

	var first *Sheet
	for i := range tables.Length() {
		s, err := readTable(ctx, tables.Eq(i), opts)
		if err != nil {
			return nil, err
		}
		if len(s.Rows) > 0 {
			return s, nil
		}
		if first == nil {
			first = s
		}
	}
	return first, nil
}

// pickTable resolves a 1-based index or an element id.
func pickTable(tables *goquery.Selection, ref string) (*goquery.Selection, bool) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > tables.Length() {
			return nil, false
		}
		return tables.Eq(n - 1), true
	}
	var found *goquery.Selection
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if id, _ := t.Attr("id"); id == ref {
			found = t
			return false
		}
		return true
	})
	return found, found != nil
}

// readTable uses the first row containing <th> cells as headers, or the
// first row when there is none.
func readTable(ctx context.Context, table *goquery.Selection, opts Options) (*Sheet, error) {
	name := "table"
	if id, ok := table.Attr("id"); ok && id != "" {
		name = id
	} else if c := strings.TrimSpace(table.ChildrenFiltered("caption").Text()); c != "" {
		name = c
	}
	s := &Sheet{Name: name}

	// Nested tables have their own rows; only direct rows count.
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	})

	headerAt := -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.ChildrenFiltered("th").Length() > 0 {
			headerAt = i
			return false
		}
		return true
	})
	if headerAt < 0 {
		headerAt = 0
	}

	var err error
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		if i < headerAt {
			return true
		}
		cells := cellTexts(tr)
		if i == headerAt {
			hs := newHeaderSet()
			for _, c := range cells {
				hs.add(c)
			}
			s.Headers = hs.names
			return true
		}
		if row, ok := rowFromCells(s.Headers, cells); ok {
			s.Rows = append(s.Rows, row)
		}
		return !full(s, opts)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("th, td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		text := strings.Join(strings.Fields(c.Text()), " ")
		out = append(out, text)
		if span, err := strconv.Atoi(c.AttrOr("colspan", "1")); err == nil {
			for j := 1; j < span && j < 64; j++ {
				out = append(out, text)
			}
		}
	})
	return out
}
