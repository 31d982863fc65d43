package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"revdash/internal/backend"
	"revdash/internal/cache"
	"revdash/internal/cli"
	"revdash/internal/core"
	apphttp "revdash/internal/http"
	"revdash/internal/log"
	"revdash/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err, log.FieldBackend, cfg.DataBackend)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	records := cache.NewLRUCache[[]core.Invoice](cfg.CacheSize, cfg.CacheTTL)
	caches := cache.NewManager()
	caches.Register(records)
	caches.StartCleanup(cfg.CacheTTL)
	defer caches.Stop()

	dash, err := services.NewDashboard(services.Deps{
		Source:    res.Source,
		Writer:    res.Writer,
		Lister:    res.Lister,
		Catalog:   res.Products,
		Publisher: res.Publisher,
		Cache:     records,
		Logger:    logger,
	}, services.DashboardConfig{
		Granularity:     cfg.Granularity(),
		FetchTimeout:    cfg.FetchTimeout,
		ServerNarrowing: cfg.ServerNarrowing,
	})
	if err != nil {
		cli.Fatal(logger, "Failed to create dashboard", err)
	}

	// A failed first load is not fatal; /api/series retries it.
	if view, err := dash.Load(ctx); err != nil {
		logger.Warn("Initial invoice load failed", log.FieldError, err)
	} else {
		logger.Info("Invoices loaded",
			log.FieldGranularity, view.Granularity.String(),
			log.FieldBuckets, view.Series.Len())
	}

	opts := apphttp.Options{Logger: logger}
	if res.Pinger != nil {
		opts.Pinger = res.Pinger
	}
	srv := apphttp.NewServer(":"+cfg.Port, dash, opts)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting revdash server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		log.FieldGranularity, cfg.DefaultGranularity,
		"writable", dash.CanWrite())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "port", cfg.Port)
	}

	<-stopped
	logger.Info("Server stopped gracefully")
}
