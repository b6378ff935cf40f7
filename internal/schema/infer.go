package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultSampleRows is how many leading rows feed type inference.
const DefaultSampleRows = 100

// InferType classifies a column sample as Numeric, Date or String.
//
// Nil and blank values are compatible with every type. A column is Numeric
// when every non-empty value parses as a float, otherwise Date when every
// non-empty value parses as a calendar date or timestamp, otherwise String.
// Numeric is checked first because plain numbers are accepted by some date
// grammars. A sample with no non-empty values is String.
func InferType(values []any) Type {
	var seen bool
	allNum := true
	allDate := true

	for _, v := range values {
		switch t := v.(type) {
		case time.Time:
			seen = true
			allNum = false
			continue
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			seen = true
			allDate = false
			continue
		case bool:
			seen = true
			allNum = false
			allDate = false
			continue
		case json.Number:
			v = t.String()
		}

		s, ok := CellText(v)
		if !ok {
			continue
		}
		seen = true

		if allNum {
			if _, ok := parseNumber(s); !ok {
				allNum = false
			}
		}
		if allDate {
			if _, ok := ParseDate(s); !ok {
				allDate = false
			}
		}
		if !allNum && !allDate {
			return String
		}
	}

	switch {
	case !seen:
		return String
	case allNum:
		return Numeric
	case allDate:
		return Date
	default:
		return String
	}
}

// SampleColumn returns the first limit values of header across rows.
// Missing keys are returned as nil.
func SampleColumn(rows []Row, header string, limit int) []any {
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]any, 0, limit)
	for _, r := range rows[:limit] {
		out = append(out, r[header])
	}
	return out
}

// parseNumber parses s as a finite decimal float. Hex floats, NaN and Inf
// spellings are rejected even though strconv accepts them.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xXnN_") {
		// "n" rules out NaN/Inf/infinity; legitimate decimals never contain it.
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"01/02/2006",
	"02/01/2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var tsLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseDate parses s with the accepted date and timestamp layouts.
// time.Parse rejects impossible calendar dates such as 2024-02-30.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CellText renders a decoded cell as the text stored in a dynamic table.
// ok is false for nil and blank values, which are stored as NULL.
func CellText(v any) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case []byte:
		s = string(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		h, m, sec := t.Clock()
		if h == 0 && m == 0 && sec == 0 && t.Nanosecond() == 0 {
			s = t.Format("2006-01-02")
		} else {
			s = t.Format(time.RFC3339)
		}
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(v)
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
