package ingest

import (
	"context"
	"fmt"

	"powerdash/internal/schema"
	"powerdash/internal/storage"
)

// Materializer recreates the physical table backing a data source.
type Materializer struct {
	Store storage.Store
}

// Materialize drops and recreates the table for dataSourceID with one text
// column per descriptor. Existing rows are discarded. The two DDL statements
// are not transactional; a failure in between leaves no table.
func (m Materializer) Materialize(ctx context.Context, dataSourceID string, cols []schema.ColumnDescriptor) (string, error) {
	table := storage.TableName(dataSourceID)
	if err := storage.ValidateIdent(table); err != nil {
		return "", fmt.Errorf("%w: table: %v", ErrConfiguration, err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("%w: %s has no columns", ErrConfiguration, table)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		if err := storage.ValidateIdent(c.Name); err != nil {
			return "", fmt.Errorf("%w: column: %v", ErrConfiguration, err)
		}
		names[i] = c.Name
	}

	if err := m.Store.DropTable(ctx, table); err != nil {
		return "", fmt.Errorf("materialize %s: drop: %w", table, err)
	}
	if err := m.Store.CreateTable(ctx, table, names); err != nil {
		return "", fmt.Errorf("materialize %s: create: %w", table, err)
	}
	return table, nil
}
