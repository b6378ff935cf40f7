package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

func decodeCSV(ctx context.Context, r io.Reader, opts Options) (*Sheet, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Sheet{Name: "csv"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	hs := newHeaderSet()
	for _, h := range hdr {
		hs.add(h)
	}
	s := &Sheet{Name: "csv", Headers: hs.names}

	for !full(s, opts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		if row, ok := rowFromCells(s.Headers, rec); ok {
			s.Rows = append(s.Rows, row)
		}
	}
	return s, nil
}
