package main

import (
	"context"
	"errors"
	"time"

	"revdash/internal/amqp"
	"revdash/internal/cli"
	"revdash/internal/invoices"
	gsheet "revdash/internal/invoices/google"
	"revdash/internal/log"
	"revdash/internal/storage"
	"revdash/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting revdash-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		cli.Fatal(logger, "AMQP_URL is required by the worker", errors.New("missing AMQP_URL"))
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize SQLite repository", err, "path", cfg.SQLiteDBPath)
	}
	defer repo.Close()

	// Mirroring into Google Sheets is optional.
	var mirror invoices.Writer
	if cfg.GoogleSpreadsheetID != "" {
		sheets, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
		}
		mirror = sheets
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	defer client.Close()

	ingest := worker.NewIngestWorker(repo, mirror)

	// Periodic stats, mostly useful to spot a stuck consumer.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := ingest.Stats()
				logger.Info("Ingest stats",
					"stored", stats.Stored,
					"rejected", stats.Rejected,
					"failed", stats.Failed,
					"mirrored", stats.Mirrored)
			}
		}
	}()

	logger.Info("Consuming invoice messages",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	if err := client.ConsumeInvoiceCreated(ctx, ingest.HandleInvoiceCreated); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
	}

	stats := ingest.Stats()
	logger.Info("Worker stopped",
		log.FieldOperation, log.OpShutdown,
		"stored", stats.Stored,
		"rejected", stats.Rejected,
		"failed", stats.Failed)
}
