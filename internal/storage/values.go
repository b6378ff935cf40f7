package storage

// NormalizeValue converts a scanned driver value to a JSON-friendly form.
// database/sql drivers may hand TEXT back as []byte for untyped scans.
func NormalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// NormalizeRow applies NormalizeValue to every value of row in place.
func NormalizeRow(row []any) []any {
	for i, v := range row {
		row[i] = NormalizeValue(v)
	}
	return row
}
