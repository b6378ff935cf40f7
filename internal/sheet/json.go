package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"powerdash/internal/schema"
)

// jsonDecoder collects records from a JSON document. Accepted shapes:
//   - an array of objects
//   - an object with an array-of-objects field (the first such field wins)
//   - a single object, one record
//   - any of the above followed by more objects (JSON lines)
//
// Objects are walked token by token so header order follows the source.
type jsonDecoder struct {
	ctx     context.Context
	dec     *json.Decoder
	opts    Options
	sep     string
	headers *headerSet
	sheet   *Sheet
}

func decodeJSON(ctx context.Context, r io.Reader, opts Options) (*Sheet, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := opts.ArraySeparator
	if sep == "" {
		sep = ","
	}
	d := &jsonDecoder{ctx: ctx, dec: dec, opts: opts, sep: sep, headers: newHeaderSet(), sheet: &Sheet{Name: "json"}}
	if err := d.run(); err != nil {
		return nil, err
	}
	d.sheet.Headers = d.headers.names
	return d.sheet, nil
}

func (d *jsonDecoder) run() error {
	tok, err := d.dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := d.records(); err != nil {
			return err
		}
		if err := d.expect(json.Delim(']')); err != nil {
			return err
		}
	case json.Delim('{'):
		if err := d.envelopeOrSingle(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}
	return d.trailing()
}

func (d *jsonDecoder) expect(want json.Delim) error {
	tok, err := d.dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// trailing consumes JSON-lines style objects after the root value.
func (d *jsonDecoder) trailing() error {
	for !full(d.sheet, d.opts) {
		tok, err := d.dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: trailing record: %w", err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing value %v is not an object", tok)
		}
		if err := d.object(); err != nil {
			return err
		}
	}
	return nil
}

// records reads array elements after '[' has been consumed. null elements
// are skipped; anything else that is not an object is an error.
func (d *jsonDecoder) records() error {
	for d.dec.More() {
		if err := d.ctx.Err(); err != nil {
			return err
		}
		tok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", len(d.sheet.Rows)+1, err)
		}
		switch tok {
		case nil:
			continue
		case json.Delim('{'):
		default:
			return fmt.Errorf("json: record %d is %T, not an object", len(d.sheet.Rows)+1, tok)
		}
		if full(d.sheet, d.opts) {
			if err := skipFrom(d.dec, tok); err != nil {
				return err
			}
			continue
		}
		if err := d.object(); err != nil {
			return err
		}
	}
	return nil
}

// object reads one record after '{' has been consumed.
func (d *jsonDecoder) object() error {
	row := schema.Row{}
	for d.dec.More() {
		key, err := d.key()
		if err != nil {
			return err
		}
		v, err := d.value()
		if err != nil {
			return err
		}
		d.headers.addKey(key)
		if v != nil {
			row[key] = v
		}
	}
	if err := d.expect(json.Delim('}')); err != nil {
		return err
	}
	if len(row) > 0 {
		d.sheet.Rows = append(d.sheet.Rows, row)
	}
	return nil
}

// envelopeOrSingle handles a root object after '{'. The first field holding
// an array of objects becomes the record stream and the rest of the object is
// skipped. Without such a field the object itself is the only record.
func (d *jsonDecoder) envelopeOrSingle() error {
	single := schema.Row{}
	var order []string

	for d.dec.More() {
		key, err := d.key()
		if err != nil {
			return err
		}
		tok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: field %q: %w", key, err)
		}

		if tok == json.Delim('[') {
			if !d.dec.More() {
				if err := d.expect(json.Delim(']')); err != nil {
					return err
				}
				order = append(order, key)
				continue
			}
			d.sheet.Name = key
			if err := d.records(); err != nil {
				return err
			}
			if err := d.expect(json.Delim(']')); err != nil {
				return err
			}
			for d.dec.More() {
				if _, err := d.dec.Token(); err != nil {
					return fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNext(d.dec); err != nil {
					return err
				}
			}
			return d.expect(json.Delim('}'))
		}

		v, err := materialize(d.dec, tok)
		if err != nil {
			return err
		}
		order = append(order, key)
		if v = flatten(v, d.sep); v != nil {
			single[key] = v
		}
	}
	if err := d.expect(json.Delim('}')); err != nil {
		return err
	}

	for _, k := range order {
		d.headers.addKey(k)
	}
	if len(single) > 0 {
		d.sheet.Rows = append(d.sheet.Rows, single)
	}
	return nil
}

func (d *jsonDecoder) key() (string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: object key is %T", tok)
	}
	return key, nil
}

func (d *jsonDecoder) value() (any, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: read value: %w", err)
	}
	v, err := materialize(d.dec, tok)
	if err != nil {
		return nil, err
	}
	return flatten(v, d.sep), nil
}

// materialize builds the Go value whose first token is tok.
func materialize(dec *json.Decoder, tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := map[string]any{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested key is %T", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: nested object end: %w", err)
		}
		return m, nil
	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: nested element: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: nested array end: %w", err)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("json: unexpected delimiter %q", delim)
}

func skipNext(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	return skipFrom(dec, tok)
}

func skipFrom(dec *json.Decoder, tok json.Token) error {
	_, err := materialize(dec, tok)
	return err
}

// flatten turns a nested value into one cell: string arrays are joined with
// sep, other composites are re-encoded as JSON text.
func flatten(v any, sep string) any {
	switch t := v.(type) {
	case nil, string, json.Number, bool:
		return v
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return encodeJSON(v)
			}
			parts = append(parts, s)
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, sep)
	}
	return encodeJSON(v)
}

func encodeJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
