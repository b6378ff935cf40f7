package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"powerdash/internal/config"
	"powerdash/internal/logging"
	"powerdash/internal/metrics"
	"powerdash/internal/metrics/datadog"

	// register all backends with the storage factory.
	_ "powerdash/internal/storage/all"
)

func main() {
	var (
		cfgPath  string
		addr     string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "", "config file (YAML or JSON); env POWERDASH_* overrides")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	if validate {
		log.Printf("Configuration is valid")
		return
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics := setupMetrics(ctx, cfg, logger)
	defer closeMetrics()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// setupMetrics installs the configured metrics backend and returns its
// shutdown func. Failing to start Datadog is not fatal.
func setupMetrics(ctx context.Context, cfg *config.Config, logger *zap.Logger) func() {
	switch cfg.Metrics.Backend {
	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			Service:    "powerdash",
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("metrics: datadog backend unavailable; using nop", zap.Error(err))
			return func() {}
		}
		logger.Info("metrics: datadog enabled", zap.Strings("tags", tags))
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
		}
	default:
		logger.Debug("metrics: disabled", zap.String("backend", cfg.Metrics.Backend))
		return func() {}
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: a.controller.NewRouter(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Kind),
			zap.String("catalog", cfg.Catalog.Kind),
			zap.String("lock", cfg.Lock.Kind))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
