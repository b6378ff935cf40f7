package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"powerdash/internal/catalog"
	"powerdash/internal/keylock"
	"powerdash/internal/logging"
	"powerdash/internal/metrics"
	"powerdash/internal/schema"
	"powerdash/internal/storage"
)

// Row is one aggregated group.
type Row struct {
	Dimension any `json:"dimension"`
	Group     any `json:"group_by,omitempty"`
	Value     any `json:"value"`
}

// Service answers aggregation requests for ready data sources.
type Service struct {
	Store   storage.Store
	Catalog catalog.Store
	Locker  keylock.Locker
	Logger  *zap.Logger
	MaxRows int
}

// target is what a read needs from the catalog, resolved under the read lock.
type target struct {
	table string
	cols  []schema.ColumnDescriptor
}

// withTarget takes the read lock on id's table, checks the record is ready
// and calls fn with its table and columns. The lock key matches the one
// ingest.Pipeline writes under.
func (s *Service) withTarget(ctx context.Context, id string, fn func(target) error) error {
	unlock, err := s.Locker.RLock(ctx, storage.TableName(id))
	if err != nil {
		return fmt.Errorf("query %s: lock: %w", id, err)
	}
	defer unlock()

	ds, err := s.Catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if ds.Status != catalog.StatusReady {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, id, ds.Status)
	}
	if ds.Config.TableName == "" {
		return fmt.Errorf("%w: %s has no table", catalog.ErrNotFound, id)
	}
	cols, err := s.Catalog.Columns(ctx, id)
	if err != nil {
		return err
	}
	return fn(target{table: ds.Config.TableName, cols: cols})
}

// Aggregate validates req against the stored columns and runs it.
func (s *Service) Aggregate(ctx context.Context, req Request) (rows []Row, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration(metrics.QueryDurationSeconds, start, metrics.Labels{"status": metrics.Status(err)})
		metrics.IncCounter(metrics.QueryTotal, 1, metrics.Labels{"status": metrics.Status(err)})
	}()

	err = s.withTarget(ctx, req.DataSourceID, func(t target) error {
		stmt, err := build(t.table, t.cols, req, s.Store.Dialect(), s.MaxRows)
		if err != nil {
			return err
		}
		raw, err := s.Store.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("query %s: %w", t.table, err)
		}
		rows = toRows(raw, req.GroupBy != "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.OrNop(s.Logger).Debug("aggregate",
		zap.String("data_source", req.DataSourceID),
		zap.String("dimension", req.Dimension),
		zap.String("measure", req.Measure),
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)))
	return rows, nil
}

// DistinctCount returns the number of distinct values in column.
func (s *Service) DistinctCount(ctx context.Context, id, column string) (int64, error) {
	var n int64
	err := s.withTarget(ctx, id, func(t target) error {
		stmt, err := BuildDistinctCount(t.table, t.cols, column, s.Store.Dialect())
		if err != nil {
			return err
		}
		raw, err := s.Store.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("distinct %s.%s: %w", t.table, column, err)
		}
		if len(raw) == 1 && len(raw[0]) == 1 {
			n = toInt64(raw[0][0])
		}
		return nil
	})
	return n, err
}

func toRows(raw [][]any, grouped bool) []Row {
	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		var row Row
		switch {
		case grouped && len(r) >= 3:
			row = Row{Dimension: r[0], Group: r[1], Value: r[2]}
		case len(r) >= 2:
			row = Row{Dimension: r[0], Value: r[1]}
		default:
			continue
		}
		out = append(out, row)
	}
	return out
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
