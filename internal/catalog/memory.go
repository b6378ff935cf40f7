package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"powerdash/internal/schema"
)

// Memory is an in-process Store.
type Memory struct {
	sources *xsync.Map[string, DataSource]
	columns *xsync.Map[string, []schema.ColumnDescriptor]
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sources: xsync.NewMap[string, DataSource](),
		columns: xsync.NewMap[string, []schema.ColumnDescriptor](),
	}
}

func (m *Memory) Get(ctx context.Context, id string) (DataSource, error) {
	ds, ok := m.sources.Load(id)
	if !ok {
		return DataSource{}, ErrNotFound
	}
	return ds, nil
}

func (m *Memory) Put(ctx context.Context, ds DataSource) error {
	m.sources.Store(ds.ID, ds)
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if _, ok := m.sources.LoadAndDelete(id); !ok {
		return ErrNotFound
	}
	m.columns.Delete(id)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]DataSource, error) {
	out := make([]DataSource, 0, m.sources.Size())
	m.sources.Range(func(_ string, ds DataSource) bool {
		out = append(out, ds)
		return true
	})
	sortSources(out)
	return out, nil
}

func (m *Memory) Columns(ctx context.Context, id string) ([]schema.ColumnDescriptor, error) {
	cols, ok := m.columns.Load(id)
	if !ok || len(cols) == 0 {
		return nil, ErrNotFound
	}
	return slices.Clone(cols), nil
}

func (m *Memory) ReplaceColumns(ctx context.Context, id string, cols []schema.ColumnDescriptor) error {
	if err := checkColumns(cols); err != nil {
		return err
	}
	m.columns.Store(id, slices.Clone(cols))
	return nil
}

func (m *Memory) DeleteColumns(ctx context.Context, id string) error {
	m.columns.Delete(id)
	return nil
}

func sortSources(s []DataSource) {
	slices.SortFunc(s, func(a, b DataSource) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

var _ Store = (*Memory)(nil)
