package query

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"powerdash/internal/catalog"
	"powerdash/internal/ingest"
	"powerdash/internal/keylock"
	"powerdash/internal/schema"
	"powerdash/internal/storage"
	"powerdash/internal/storage/sqlite"
)

type countingStore struct {
	storage.Store
	queries atomic.Int32
}

func (s *countingStore) Query(ctx context.Context, stmt storage.Statement) ([][]any, error) {
	s.queries.Add(1)
	return s.Store.Query(ctx, stmt)
}

func setup(t *testing.T) (*Service, *countingStore, *catalog.Memory) {
	t.Helper()
	ctx := context.Background()

	raw, err := sqlite.New(ctx, storage.Config{Kind: sqlite.Kind, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(raw.Close)
	st := &countingStore{Store: raw}

	cat := catalog.NewMemory()
	locks := keylock.NewLocal()
	p := &ingest.Pipeline{Store: st, Catalog: cat, Locker: locks, Logger: zaptest.NewLogger(t)}

	techs := []string{"Solar", "Wind", "Hydro"}
	regions := []string{"North", "South"}
	var rows []schema.Row
	for i := 0; i < 12; i++ {
		rows = append(rows, schema.Row{
			"Date":       fmt.Sprintf("2024-01-0%d", i%3+1),
			"Region":     regions[i%2],
			"Technology": techs[i%3],
			"MW":         fmt.Sprintf("%d", i+1),
		})
	}
	_, err = p.Ingest(ctx, ingest.Request{DataSourceID: "plant", Headers: []string{"Date", "Region", "Technology", "MW"}, Rows: rows})
	require.NoError(t, err)

	return &Service{Store: st, Catalog: cat, Locker: locks, Logger: zaptest.NewLogger(t)}, st, cat
}

func TestAggregate_SumByRegion(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)

	rows, err := svc.Aggregate(context.Background(), Request{DataSourceID: "plant", Dimension: "region", Measure: "mw"})
	require.NoError(t, err)

	// North holds the odd-numbered MW values, South the even ones.
	require.Len(t, rows, 2)
	assert.Equal(t, "North", rows[0].Dimension)
	assert.EqualValues(t, 36, rows[0].Value)
	assert.Equal(t, "South", rows[1].Dimension)
	assert.EqualValues(t, 42, rows[1].Value)
}

func TestAggregate_GroupedAndFiltered(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)

	rows, err := svc.Aggregate(context.Background(), Request{
		DataSourceID: "plant",
		Dimension:    "date",
		Measure:      "mw",
		Aggregation:  "count",
		GroupBy:      "technology",
		Filters:      map[string]any{"region": "North"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	var total int64
	for _, r := range rows {
		require.NotNil(t, r.Group)
		total += r.Value.(int64)
	}
	assert.EqualValues(t, 6, total)
}

func TestAggregate_UnknownColumnIssuesNoSQL(t *testing.T) {
	t.Parallel()
	svc, st, _ := setup(t)
	before := st.queries.Load()

	_, err := svc.Aggregate(context.Background(), Request{DataSourceID: "plant", Dimension: "region", Measure: "unknown_col"})
	require.ErrorIs(t, err, ErrUnknownColumn)
	assert.Equal(t, before, st.queries.Load())
}

func TestAggregate_RecordStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, cat := setup(t)

	_, err := svc.Aggregate(ctx, Request{DataSourceID: "missing", Dimension: "region", Measure: "mw"})
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = catalog.Update(ctx, cat, "plant", func(ds *catalog.DataSource) { ds.Status = catalog.StatusIngesting })
	require.NoError(t, err)
	_, err = svc.Aggregate(ctx, Request{DataSourceID: "plant", Dimension: "region", Measure: "mw"})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestDistinctCount(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)

	n, err := svc.DistinctCount(context.Background(), "plant", "Technology")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
