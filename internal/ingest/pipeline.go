// Package ingest turns a decoded sheet into a queryable table: build the
// schema, recreate the table, load the rows in parameter-bounded chunks and
// record the outcome in the catalog.
package ingest

import (
	"context"
	"errors"
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

// Request is one upload.
type Request struct {
	DataSourceID string
	Name         string
	Sheet        string
	Format       string
	// Headers fixes column order. When empty it is derived from Rows.
	Headers []string
	Rows    []schema.Row
}

// Result is what a successful ingestion produced.
type Result struct {
	Table      string                    `json:"table"`
	Columns    []schema.ColumnDescriptor `json:"columns"`
	Rows       int64                     `json:"rows"`
	Statements int                       `json:"statements"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	Store   storage.Store
	Catalog catalog.Store
	Locker  keylock.Locker
	Logger  *zap.Logger

	SampleRows   int
	ParamCeiling int
	// Timeout bounds DDL plus load. Zero means no extra bound.
	Timeout time.Duration
}

// Ingest runs the full pipeline for req.
//
// An empty sheet or a sheet too wide for the parameter ceiling fails before
// the lock is taken and leaves the record and its table as they were. So does
// an id whose table already belongs to another data source. Any later failure
// marks the record StatusError.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (res Result, err error) {
	log := logging.OrNop(p.Logger).With(zap.String("data_source", req.DataSourceID))
	start := time.Now()
	defer func() {
		labels := metrics.Labels{"status": metrics.Status(err)}
		metrics.IncCounter(metrics.IngestTotal, 1, labels)
		metrics.ObserveDuration(metrics.IngestDurationSeconds, start, labels)
	}()

	if req.DataSourceID == "" {
		return Result{}, fmt.Errorf("%w: missing data source id", ErrConfiguration)
	}

	headers := req.Headers
	if len(headers) == 0 {
		headers = schema.HeadersFromRows(req.Rows)
	}
	stageStart := time.Now()
	cols, err := schema.Build(headers, req.Rows, schema.BuildOptions{SampleRows: p.SampleRows})
	if err != nil {
		return Result{}, err
	}
	log.Debug("stage done", zap.String("stage", "schema"),
		zap.Int("columns", len(cols)), zap.Duration("took", time.Since(stageStart)))

	if _, err := p.loader().RowsPerStatement(p.Store.Dialect(), len(cols)); err != nil {
		return Result{}, err
	}

	table := storage.TableName(req.DataSourceID)
	unlock, err := p.Locker.Lock(ctx, table)
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: lock: %w", req.DataSourceID, err)
	}
	defer unlock()

	if err := p.checkOwner(ctx, req.DataSourceID, table); err != nil {
		return Result{}, err
	}
	if err := p.markIngesting(ctx, req); err != nil {
		return Result{}, err
	}

	res, err = p.run(ctx, log, req, cols)
	if err != nil {
		log.Error("ingest failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		p.markFailed(ctx, log, req.DataSourceID, err)
		return Result{}, err
	}

	log.Info("ingest done",
		zap.String("table", res.Table),
		zap.Int64("rows", res.Rows),
		zap.Int("statements", res.Statements),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, req Request, cols []schema.ColumnDescriptor) (Result, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	stageStart := time.Now()
	table, err := Materializer{Store: p.Store}.Materialize(ctx, req.DataSourceID, cols)
	if err != nil {
		return Result{}, err
	}
	log.Debug("stage done", zap.String("stage", "ddl"),
		zap.String("table", table), zap.Duration("took", time.Since(stageStart)))

	stageStart = time.Now()
	loaded, err := p.loader().Load(ctx, table, cols, req.Rows)
	if err != nil {
		return Result{}, err
	}
	metrics.IncCounter(metrics.IngestRowsTotal, float64(loaded.Rows), nil)
	metrics.IncCounter(metrics.LoadStatementsTotal, float64(loaded.Statements), metrics.Labels{"backend": p.Store.Dialect().Name()})
	log.Debug("stage done", zap.String("stage", "load"),
		zap.Int64("rows", loaded.Rows),
		zap.Int("statements", loaded.Statements),
		zap.Int("rows_per_statement", loaded.RowsPerStatement),
		zap.Duration("took", time.Since(stageStart)))

	stageStart = time.Now()
	if err := p.Catalog.ReplaceColumns(ctx, req.DataSourceID, cols); err != nil {
		return Result{}, fmt.Errorf("ingest %s: persist columns: %w", req.DataSourceID, err)
	}
	_, err = catalog.Update(ctx, p.Catalog, req.DataSourceID, func(ds *catalog.DataSource) {
		ds.Status = catalog.StatusReady
		ds.Config.TableName = table
		ds.RowCount = loaded.Rows
		ds.LastError = ""
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: persist record: %w", req.DataSourceID, err)
	}
	log.Debug("stage done", zap.String("stage", "persist"), zap.Duration("took", time.Since(stageStart)))

	return Result{Table: table, Columns: cols, Rows: loaded.Rows, Statements: loaded.Statements}, nil
}

func (p *Pipeline) loader() Loader {
	return Loader{Store: p.Store, ParamCeiling: p.ParamCeiling}
}

// checkOwner rejects id when another record derives or already uses table.
// Distinct ids can normalize to one table name ("Plant-A", "plant_a").
func (p *Pipeline) checkOwner(ctx context.Context, id, table string) error {
	all, err := p.Catalog.List(ctx)
	if err != nil {
		return fmt.Errorf("ingest %s: list records: %w", id, err)
	}
	for _, ds := range all {
		if ds.ID == id {
			continue
		}
		if ds.Config.TableName == table || storage.TableName(ds.ID) == table {
			return fmt.Errorf("%w: %s is used by %q", ErrTableInUse, table, ds.ID)
		}
	}
	return nil
}

// markIngesting creates the record on first upload and flips it to
// StatusIngesting.
func (p *Pipeline) markIngesting(ctx context.Context, req Request) error {
	ds, err := p.Catalog.Get(ctx, req.DataSourceID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		ds = catalog.DataSource{ID: req.DataSourceID, CreatedAt: time.Now().UTC()}
	case err != nil:
		return fmt.Errorf("ingest %s: load record: %w", req.DataSourceID, err)
	}
	if req.Name != "" {
		ds.Name = req.Name
	}
	if ds.Name == "" {
		ds.Name = req.DataSourceID
	}
	ds.Status = catalog.StatusIngesting
	ds.Config.Sheet = req.Sheet
	ds.Config.Format = req.Format
	ds.LastError = ""
	ds.UpdatedAt = time.Now().UTC()
	if err := p.Catalog.Put(ctx, ds); err != nil {
		return fmt.Errorf("ingest %s: save record: %w", req.DataSourceID, err)
	}
	return nil
}

func (p *Pipeline) markFailed(ctx context.Context, log *zap.Logger, id string, cause error) {
	// The request ctx may already be cancelled; the status write still has to land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := catalog.Update(ctx, p.Catalog, id, func(ds *catalog.DataSource) {
		ds.Status = catalog.StatusError
		ds.LastError = cause.Error()
		ds.RowCount = 0
	})
	if err != nil {
		log.Warn("ingest: could not record failure", zap.Error(err))
	}
}

// Delete drops the table and removes the record with its columns.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	table := storage.TableName(id)
	unlock, err := p.Locker.Lock(ctx, table)
	if err != nil {
		return fmt.Errorf("delete %s: lock: %w", id, err)
	}
	defer unlock()

	if _, err := p.Catalog.Get(ctx, id); err != nil {
		return err
	}

	if err := storage.ValidateIdent(table); err != nil {
		return fmt.Errorf("%w: table: %v", ErrConfiguration, err)
	}
	if err := p.Store.DropTable(ctx, table); err != nil {
		return fmt.Errorf("delete %s: drop: %w", id, err)
	}
	if err := p.Catalog.DeleteColumns(ctx, id); err != nil {
		return fmt.Errorf("delete %s: columns: %w", id, err)
	}
	if err := p.Catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: record: %w", id, err)
	}
	logging.OrNop(p.Logger).Info("data source deleted", zap.String("data_source", id), zap.String("table", table))
	return nil
}
