package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"powerdash/internal/schema"
)

func TestDecodeCSV(t *testing.T) {
	t.Parallel()

	in := "\uFEFFDate, Region ,MW,MW,\n2024-01-01,North,12.5,1,x\n,,,,\n2024-01-02,South,,2\n"
	s, err := Decode(context.Background(), CSV, strings.NewReader(in), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Date", "Region", "MW", "MW 2", "Column 5"}, s.Headers)
	require.Len(t, s.Rows, 2, "blank rows are skipped")
	assert.Equal(t, schema.Row{"Date": "2024-01-01", "Region": "North", "MW": "12.5", "MW 2": "1", "Column 5": "x"}, s.Rows[0])
	assert.Equal(t, schema.Row{"Date": "2024-01-02", "Region": "South", "MW 2": "2"}, s.Rows[1])
}

func TestDecodeTSV_MaxRows(t *testing.T) {
	t.Parallel()

	in := "a\tb\n1\t2\n3\t4\n5\t6\n"
	s, err := Decode(context.Background(), TSV, strings.NewReader(in), Options{MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Headers)
	assert.Len(t, s.Rows, 2)
}

func TestDecodeCSV_Empty(t *testing.T) {
	t.Parallel()

	s, err := Decode(context.Background(), CSV, strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Empty(t, s.Rows)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		headers  []string
		rows     int
		sheet    string
		firstRow schema.Row
	}{
		{
			name:     "array",
			in:       `[{"Date":"2024-01-01","MW":12.5,"Tags":["a","b"]},null,{"Region":"North","MW":null}]`,
			headers:  []string{"Date", "MW", "Tags", "Region"},
			rows:     2,
			sheet:    "json",
			firstRow: schema.Row{"Date": "2024-01-01", "MW": jsonNumber("12.5"), "Tags": "a,b"},
		},
		{
			name:     "envelope",
			in:       `{"meta":{"v":1},"data":[{"z":1,"a":2}],"next":null}`,
			headers:  []string{"z", "a"},
			rows:     1,
			sheet:    "data",
			firstRow: schema.Row{"z": jsonNumber("1"), "a": jsonNumber("2")},
		},
		{
			name:     "single object",
			in:       `{"name":"Plant","nested":{"k":"v"}}`,
			headers:  []string{"name", "nested"},
			rows:     1,
			sheet:    "json",
			firstRow: schema.Row{"name": "Plant", "nested": `{"k":"v"}`},
		},
		{
			name:     "json lines",
			in:       "{\"a\":1}\n{\"a\":2,\"b\":true}\n",
			headers:  []string{"a", "b"},
			rows:     2,
			sheet:    "json",
			firstRow: schema.Row{"a": jsonNumber("1")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Decode(context.Background(), JSON, strings.NewReader(tt.in), Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.headers, s.Headers)
			assert.Equal(t, tt.sheet, s.Name)
			require.Len(t, s.Rows, tt.rows)
			assert.Equal(t, tt.firstRow, s.Rows[0])
		})
	}
}

func TestDecodeJSON_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`[1,2]`, `"x"`, `[{"a":1}`} {
		_, err := Decode(context.Background(), JSON, strings.NewReader(in), Options{})
		assert.Error(t, err, in)
	}
}

func TestDecodeXLSX(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	_, err := f.NewSheet("Plants")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Plants", "A2", &[]any{"Date", "Technology", "MW"}))
	require.NoError(t, f.SetSheetRow("Plants", "A3", &[]any{"2024-01-01", "Solar", 12.5}))
	require.NoError(t, f.SetSheetRow("Plants", "A4", &[]any{"2024-01-02", "Wind", 7}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	data := buf.Bytes()

	// Sheet1 is empty, so the first non-empty worksheet is picked.
	s, err := Decode(context.Background(), XLSX, bytes.NewReader(data), Options{})
	require.NoError(t, err)
	assert.Equal(t, "Plants", s.Name)
	assert.Equal(t, []string{"Date", "Technology", "MW"}, s.Headers)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "Wind", s.Rows[1]["Technology"])
	assert.Equal(t, "7", s.Rows[1]["MW"])

	empty, err := Decode(context.Background(), XLSX, bytes.NewReader(data), Options{Sheet: "Sheet1"})
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)

	_, err = Decode(context.Background(), XLSX, bytes.NewReader(data), Options{Sheet: "Nope"})
	require.ErrorIs(t, err, ErrSheetNotFound)

	names, err := Worksheets(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1", "Plants"}, names)
}

func TestDecodeHTML(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<table id="nav"><tr><td>menu</td></tr></table>
<table id="output">
  <caption>Output</caption>
  <thead><tr><th>Date</th><th>Region</th><th colspan="2">MW</th></tr></thead>
  <tbody>
    <tr><td>2024-01-01</td><td> North  east </td><td>1</td><td>2</td></tr>
    <tr><td></td><td></td><td></td><td></td></tr>
    <tr><td>2024-01-02</td><td>South</td><td>3</td><td>4</td></tr>
  </tbody>
</table></body></html>`

	s, err := Decode(context.Background(), HTML, strings.NewReader(page), Options{Sheet: "output"})
	require.NoError(t, err)
	assert.Equal(t, "output", s.Name)
	assert.Equal(t, []string{"Date", "Region", "MW", "MW 2"}, s.Headers)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, schema.Row{"Date": "2024-01-01", "Region": "North east", "MW": "1", "MW 2": "2"}, s.Rows[0])

	byIndex, err := Decode(context.Background(), HTML, strings.NewReader(page), Options{Sheet: "2"})
	require.NoError(t, err)
	assert.Len(t, byIndex.Rows, 2)

	_, err = Decode(context.Background(), HTML, strings.NewReader(page), Options{Sheet: "9"})
	require.ErrorIs(t, err, ErrSheetNotFound)
}

func TestDecode_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := Decode(context.Background(), "parquet", strings.NewReader(""), Options{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sample string
		want   string
	}{
		{"data.CSV", "", CSV},
		{"data.xlsx", "", XLSX},
		{"page.htm", "", HTML},
		{"upload", "PK\x03\x04rest", XLSX},
		{"upload", "  [{\"a\":1}]", JSON},
		{"upload", "<table>", HTML},
		{"upload", "a\tb\tc\n1\t2\t3", TSV},
		{"upload", "a,b\n1,2", CSV},
		{"upload", "   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFormat(tt.name, []byte(tt.sample)), "%s %q", tt.name, tt.sample)
	}
}

func jsonNumber(s string) any { return json.Number(s) }
