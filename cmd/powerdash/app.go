package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"powerdash/internal/catalog"
	"powerdash/internal/config"
	"powerdash/internal/httpapi"
	"powerdash/internal/ingest"
	"powerdash/internal/keylock"
	"powerdash/internal/query"
	"powerdash/internal/redisclient"
	"powerdash/internal/storage"
	"powerdash/internal/suggest"
)

// app holds every long-lived dependency of the server.
type app struct {
	store      storage.Store
	rdb        *redis.Client
	suggest    *suggest.Service
	controller *httpapi.Controller
}

// newApp opens storage (and Redis when the catalog or lock needs it) and
// wires the services together.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := storage.Open(ctx, storage.Config{
		Kind:         cfg.Storage.Kind,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{store: st}

	if cfg.Catalog.Kind == "redis" || cfg.Lock.Kind == "redis" {
		a.rdb, err = redisclient.New(ctx, redisclient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	var cat catalog.Store = catalog.NewMemory()
	if cfg.Catalog.Kind == "redis" {
		cat = catalog.NewRedis(a.rdb, cfg.Catalog.Prefix)
	}

	var locks keylock.Locker = keylock.NewLocal()
	if cfg.Lock.Kind == "redis" {
		locks = keylock.NewRedis(a.rdb, cfg.Catalog.Prefix, cfg.Lock.TTL, logger)
	}

	qs := &query.Service{
		Store:   st,
		Catalog: cat,
		Locker:  locks,
		Logger:  logger.Named("query"),
		MaxRows: cfg.Query.MaxRows,
	}
	a.suggest = suggest.NewService(cat, qs, suggest.ServiceOptions{
		Workers:           cfg.Suggest.Workers,
		MaxPieCardinality: cfg.Suggest.MaxPieCardinality,
		Logger:            logger.Named("suggest"),
	})

	a.controller = &httpapi.Controller{
		Pipeline: &ingest.Pipeline{
			Store:        st,
			Catalog:      cat,
			Locker:       locks,
			Logger:       logger.Named("ingest"),
			SampleRows:   cfg.Ingest.SampleRows,
			ParamCeiling: cfg.Ingest.ParamCeiling,
			Timeout:      cfg.Ingest.Timeout,
		},
		Query:          qs,
		Suggest:        a.suggest,
		Catalog:        cat,
		Logger:         logger.Named("http"),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.suggest != nil {
		a.suggest.Close()
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		a.store.Close()
	}
	return errors.Join(errs...)
}
