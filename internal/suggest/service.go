package suggest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"powerdash/internal/catalog"
	"powerdash/internal/logging"
	"powerdash/internal/metrics"
	"powerdash/internal/schema"
)

// Counter counts distinct values of a column; query.Service implements it.
type Counter interface {
	DistinctCount(ctx context.Context, dataSourceID, column string) (int64, error)
}

// Service serves suggestions for stored data sources. Pie candidates are
// checked against their real cardinality, probed in parallel on a shared pool.
type Service struct {
	catalog catalog.Store
	counter Counter
	pool    pond.Pool
	maxPie  int
	logger  *zap.Logger
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	Workers           int
	MaxPieCardinality int
	Logger            *zap.Logger
}

// NewService returns a Service. counter may be nil, which disables probing.
// Call Close to release the pool.
func NewService(cat catalog.Store, counter Counter, opts ServiceOptions) *Service {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		catalog: cat,
		counter: counter,
		pool:    pond.NewPool(workers),
		maxPie:  opts.MaxPieCardinality,
		logger:  logging.OrNop(opts.Logger),
	}
}

// Close stops the probe pool after running tasks finish.
func (s *Service) Close() { s.pool.StopAndWait() }

// Suggest returns the ranked suggestions for id, or catalog.ErrNotFound when
// it has no columns.
func (s *Service) Suggest(ctx context.Context, id string) ([]Suggestion, error) {
	cols, err := s.catalog.Columns(ctx, id)
	if err != nil {
		return nil, err
	}

	cards := s.probe(ctx, id, cols)
	out := Suggest(cols, Options{
		MaxPieCardinality: s.maxPie,
		Cardinality: func(column string) (int64, bool) {
			n, ok := cards[column]
			return n, ok
		},
	})
	metrics.IncCounter(metrics.SuggestTotal, 1, nil)
	return out, nil
}

// probe counts distinct values of every string column when a pie could be
// suggested for it. Failed probes are left out of the result.
func (s *Service) probe(ctx context.Context, id string, cols []schema.ColumnDescriptor) map[string]int64 {
	cards := map[string]int64{}
	if s.counter == nil {
		return cards
	}

	var candidates []string
	hasNumeric := false
	for _, c := range cols {
		switch c.Type {
		case schema.Numeric:
			hasNumeric = true
		case schema.String:
			candidates = append(candidates, c.Name)
		}
	}
	if !hasNumeric || len(candidates) == 0 {
		return cards
	}

	start := time.Now()
	var mu sync.Mutex
	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, name := range candidates {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			n, err := s.counter.DistinctCount(groupCtx, id, name)
			if err != nil {
				s.logger.Warn("cardinality probe failed",
					zap.String("data_source", id), zap.String("column", name), zap.Error(err))
				return
			}
			mu.Lock()
			cards[name] = n
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("cardinality probes", zap.String("data_source", id), zap.Error(err))
	}

	s.logger.Debug("cardinality probes done",
		zap.String("data_source", id),
		zap.Int("columns", len(candidates)),
		zap.Duration("took", time.Since(start)))
	return cards
}
