package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerdash/internal/schema"
	"powerdash/internal/storage"
	"powerdash/internal/storage/mssql"
	"powerdash/internal/storage/postgres"
	"powerdash/internal/storage/sqlite"
)

var powerCols = []schema.ColumnDescriptor{
	{Header: "Date", Name: "date", Type: schema.Date, Filterable: true},
	{Header: "Region", Name: "region", Type: schema.String, Filterable: true},
	{Header: "Technology", Name: "technology", Type: schema.String, Filterable: true},
	{Header: "MW", Name: "mw", Type: schema.Numeric},
}

const sqliteMW = `CASE WHEN trim("mw") GLOB '*[0-9]*' AND trim("mw") NOT GLOB '*[^0-9.eE+-]*' THEN CAST(trim("mw") AS REAL) END`

func TestBuild_SQLite(t *testing.T) {
	t.Parallel()

	stmt, err := Build("ds_1", powerCols, Request{
		Dimension:   "region",
		Measure:     "mw",
		Aggregation: "SUM",
	}, sqlite.Dialect{})
	require.NoError(t, err)

	want := `SELECT "region" AS dimension, SUM(` + sqliteMW + `) AS value FROM "ds_1" GROUP BY "region" ORDER BY "region" LIMIT 1000`
	assert.Equal(t, want, stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestBuild_FiltersAreSortedAndBound(t *testing.T) {
	t.Parallel()

	req := Request{
		Dimension:   "Date",
		Measure:     "MW",
		Aggregation: "avg",
		GroupBy:     "technology",
		Filters: map[string]any{
			"technology": []any{"Solar", "Wind"},
			"region":     "North",
		},
	}

	tests := []struct {
		name    string
		dialect storage.Dialect
		want    string
	}{
		{
			name:    "sqlite",
			dialect: sqlite.Dialect{},
			want: `SELECT "date" AS dimension, "technology" AS group_by, AVG(` + sqliteMW + `) AS value FROM "ds_1" ` +
				`WHERE "region" = ? AND "technology" IN (?, ?) GROUP BY "date", "technology" ORDER BY "date", "technology" LIMIT 1000`,
		},
		{
			name:    "postgres",
			dialect: postgres.Dialect{},
			want: `WHERE "region" = $1 AND "technology" IN ($2, $3) GROUP BY "date", "technology"`,
		},
		{
			name:    "mssql",
			dialect: mssql.Dialect{},
			want: `SELECT TOP (1000) [date] AS dimension, [technology] AS group_by, AVG(TRY_CAST([mw] AS FLOAT)) AS value FROM [ds_1] ` +
				`WHERE [region] = @p1 AND [technology] IN (@p2, @p3) GROUP BY [date], [technology] ORDER BY [date], [technology]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stmt, err := Build("ds_1", powerCols, req, tt.dialect)
			require.NoError(t, err)
			assert.Contains(t, stmt.SQL, tt.want)
			assert.Equal(t, []any{"North", "Solar", "Wind"}, stmt.Args)
		})
	}
}

func TestBuild_CountSkipsNumericCast(t *testing.T) {
	t.Parallel()

	stmt, err := Build("ds_1", powerCols, Request{Dimension: "mw", Measure: "mw", Aggregation: "count"}, sqlite.Dialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `COUNT("mw") AS value`)
}

func TestBuild_EmptyListMatchesNothing(t *testing.T) {
	t.Parallel()

	stmt, err := Build("ds_1", powerCols, Request{
		Dimension: "region",
		Measure:   "mw",
		Filters:   map[string]any{"technology": []string{}},
	}, sqlite.Dialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "WHERE 1 = 0")
	assert.Empty(t, stmt.Args)
}

func TestBuild_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr error
		column  string
	}{
		{name: "unknown measure", req: Request{Dimension: "region", Measure: "unknown_col"}, wantErr: ErrUnknownColumn, column: "unknown_col"},
		{name: "unknown dimension", req: Request{Dimension: "nope", Measure: "mw"}, wantErr: ErrUnknownColumn, column: "nope"},
		{name: "unknown group", req: Request{Dimension: "region", Measure: "mw", GroupBy: "x"}, wantErr: ErrUnknownColumn, column: "x"},
		{name: "unknown filter", req: Request{Dimension: "region", Measure: "mw", Filters: map[string]any{"mw; DROP TABLE ds_1": 1}}, wantErr: ErrUnknownColumn, column: "mw; DROP TABLE ds_1"},
		{name: "injection in dimension", req: Request{Dimension: `region" --`, Measure: "mw"}, wantErr: ErrUnknownColumn, column: `region" --`},
		{name: "unknown aggregation", req: Request{Dimension: "region", Measure: "mw", Aggregation: "median"}, wantErr: ErrUnknownAggregation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stmt, err := Build("ds_1", powerCols, tt.req, sqlite.Dialect{})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, stmt.SQL)

			if tt.column != "" {
				var uce *UnknownColumnError
				require.True(t, errors.As(err, &uce))
				assert.Equal(t, tt.column, uce.Column)
			}
		})
	}
}

func TestBuild_RejectsBadTable(t *testing.T) {
	t.Parallel()

	_, err := Build(`ds_1"; --`, powerCols, Request{Dimension: "region", Measure: "mw"}, sqlite.Dialect{})
	require.ErrorIs(t, err, storage.ErrInvalidIdent)
}

func TestBuildDistinctCount(t *testing.T) {
	t.Parallel()

	stmt, err := BuildDistinctCount("ds_1", powerCols, "Technology", postgres.Dialect{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(DISTINCT "technology") FROM "ds_1"`, stmt.SQL)

	_, err = BuildDistinctCount("ds_1", powerCols, "nope", postgres.Dialect{})
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestParseAggregation(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]aggregation{"": aggSum, "Sum": aggSum, " AVG ": aggAvg, "count": aggCount} {
		got, err := parseAggregation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseAggregation("max")
	require.True(t, strings.Contains(err.Error(), "max"))
}
