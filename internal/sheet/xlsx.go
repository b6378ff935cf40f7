package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ErrSheetNotFound is returned when Options.Sheet names a missing worksheet
// or table.
var ErrSheetNotFound = errors.New("sheet: not found")

func decodeXLSX(ctx context.Context, r io.Reader, opts Options) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	if opts.Sheet != "" {
		for _, n := range names {
			if n == opts.Sheet {
				return readWorksheet(ctx, f, n, opts)
			}
		}
		return nil, fmt.Errorf("%w: worksheet %q (have %v)", ErrSheetNotFound, opts.Sheet, names)
	}

	// First worksheet with at least one data row.
	var first *Sheet
	for _, n := range names {
		s, err := readWorksheet(ctx, f, n, opts)
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
	if first == nil {
		first = &Sheet{}
	}
	return first, nil
}

// readWorksheet treats the first non-blank row as the header row.
func readWorksheet(ctx context.Context, f *excelize.File, name string, opts Options) (*Sheet, error) {
	rows, err := f.Rows(name)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	s := &Sheet{Name: name}
	for rows.Next() && !full(s, opts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("xlsx: %s: %w", name, err)
		}
		if s.Headers == nil {
			if blank(cells) {
				continue
			}
			hs := newHeaderSet()
			for _, c := range cells {
				hs.add(c)
			}
			s.Headers = hs.names
			continue
		}
		if row, ok := rowFromCells(s.Headers, cells); ok {
			s.Rows = append(s.Rows, row)
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("xlsx: %s: %w", name, err)
	}
	return s, nil
}

// Worksheets lists the worksheet names of an XLSX file in workbook order.
func Worksheets(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	return f.GetSheetList(), nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
