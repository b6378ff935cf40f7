// Package catalog persists data source records and their column descriptors.
//
// The ingestion pipeline and the query/suggestion services treat it as a plain
// key-value CRUD store. Memory is the default; Redis shares state between
// server replicas.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"powerdash/internal/schema"
)

// Status is the ingestion status of a data source.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusIngesting    Status = "ingesting"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Config is the per-source configuration blob. TableName is set once the
// physical table exists.
type Config struct {
	TableName string `json:"tableName,omitempty"`
	Sheet     string `json:"sheet,omitempty"`
	Format    string `json:"format,omitempty"`
}

// DataSource is one uploaded dataset.
type DataSource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Config    Config    `json:"config"`
	RowCount  int64     `json:"rowCount"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	// ErrNotFound is returned for unknown data sources or missing columns.
	ErrNotFound = errors.New("catalog: not found")
	// ErrInvalidColumn is returned for a descriptor without a name or with
	// an unknown type, whether written or read back.
	ErrInvalidColumn = errors.New("catalog: invalid column descriptor")
)

// Store is the metadata persistence API.
type Store interface {
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (DataSource, error)
	// Put creates or replaces a record.
	Put(ctx context.Context, ds DataSource) error
	// Delete removes the record and its columns. Unknown ids return ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns every record ordered by creation time.
	List(ctx context.Context) ([]DataSource, error)

	// Columns returns the descriptors for id, or ErrNotFound when none exist.
	Columns(ctx context.Context, id string) ([]schema.ColumnDescriptor, error)
	// ReplaceColumns fully replaces the descriptors for id.
	ReplaceColumns(ctx context.Context, id string, cols []schema.ColumnDescriptor) error
	// DeleteColumns removes the descriptors for id. Missing is not an error.
	DeleteColumns(ctx context.Context, id string) error
}

func checkColumns(cols []schema.ColumnDescriptor) error {
	for _, c := range cols {
		if c.Name == "" || !c.Type.Valid() {
			return fmt.Errorf("%w: %q has type %q", ErrInvalidColumn, c.Name, c.Type)
		}
	}
	return nil
}

// Update loads id, applies fn and stores the result with UpdatedAt bumped.
// It is not atomic; callers serialize writers per id with a keylock.
func Update(ctx context.Context, s Store, id string, fn func(*DataSource)) (DataSource, error) {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return DataSource{}, err
	}
	fn(&ds)
	ds.UpdatedAt = time.Now().UTC()
	if err := s.Put(ctx, ds); err != nil {
		return DataSource{}, err
	}
	return ds, nil
}
