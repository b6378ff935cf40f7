package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerdash/internal/schema"
)

// exerciseStore runs the same CRUD contract against any Store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Columns(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := DataSource{ID: "a", Name: "A", Status: StatusDisconnected, CreatedAt: t0.Add(time.Minute)}
	b := DataSource{ID: "b", Name: "B", Status: StatusDisconnected, CreatedAt: t0}
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID, "ordered by creation time")

	got, err := Update(ctx, s, "a", func(ds *DataSource) {
		ds.Status = StatusReady
		ds.Config.TableName = "ds_a"
		ds.RowCount = 150
	})
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())

	stored, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, stored.Status)
	assert.Equal(t, "ds_a", stored.Config.TableName)
	assert.EqualValues(t, 150, stored.RowCount)

	cols := []schema.ColumnDescriptor{
		{Header: "Date", Name: "date", Type: schema.Date, Filterable: true},
		{Header: "MW", Name: "mw", Type: schema.Numeric},
	}
	require.NoError(t, s.ReplaceColumns(ctx, "a", cols))
	gotCols, err := s.Columns(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, cols, gotCols)

	require.NoError(t, s.ReplaceColumns(ctx, "a", cols[:1]))
	gotCols, err = s.Columns(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, gotCols, 1, "replace drops old descriptors")

	bad := []schema.ColumnDescriptor{{Header: "Blob", Name: "blob", Type: schema.Type("blob")}}
	require.ErrorIs(t, s.ReplaceColumns(ctx, "a", bad), ErrInvalidColumn)
	require.ErrorIs(t, s.ReplaceColumns(ctx, "a", []schema.ColumnDescriptor{{Type: schema.String}}), ErrInvalidColumn)
	gotCols, err = s.Columns(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, cols[:1], gotCols, "rejected replace keeps the stored descriptors")

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Columns(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound, "delete removes columns")

	require.NoError(t, s.DeleteColumns(ctx, "b"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestMemory_ColumnsAreCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	cols := []schema.ColumnDescriptor{{Name: "mw", Type: schema.Numeric}}
	require.NoError(t, m.ReplaceColumns(ctx, "x", cols))
	cols[0].Name = "mutated"

	got, err := m.Columns(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "mw", got[0].Name)
}

// TestRedis runs against a live server when REDIS_ADDR is set.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	prefix := "powerdash_test_" + uuid.NewString()
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
	})
	store := NewRedis(rdb, prefix)
	exerciseStore(t, store)

	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, store.colsKey("tampered"), `[{"name":"mw","type":"decimal"}]`, 0).Err())
	_, err := store.Columns(ctx, "tampered")
	require.ErrorIs(t, err, ErrInvalidColumn)
}
