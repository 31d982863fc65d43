package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"revdash/internal/amqp"
	gsheet "revdash/internal/invoices/google"
	"revdash/internal/invoices/memory"
	"revdash/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*Result, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	// An empty products table is seeded from the data directory.
	seeded, err := repo.SeedProducts(ctx, memory.LoadProducts(dataDir(config)))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to seed product catalogue: %w", err)
	}
	if seeded > 0 {
		f.logger.Info("Seeded product catalogue", "products", seeded)
	}

	result := &Result{
		Type:     SQLiteBackend,
		Source:   repo,
		Writer:   repo,
		Lister:   repo,
		Products: repo,
		Pinger:   repo,
		Cleanup:  repo.Close,
	}

	// AMQP is optional: without it invoices are stored but not announced.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without publishing", "error", err)
		} else {
			result.Publisher = client
			result.Cleanup = func() error {
				return errors.Join(client.Close(), repo.Close())
			}
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", result.Publisher != nil)
	return result, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*Result, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		SheetName:          config.GoogleSheetName,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"sheet", config.GoogleSheetName)
	// The spreadsheet only holds invoices; products come from the data directory.
	return &Result{
		Type:     SheetsBackend,
		Source:   cli,
		Writer:   cli,
		Lister:   cli,
		Products: memory.NewCatalogFromFiles(dataDir(config)),
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*Result, error) {
	dir := dataDir(config)
	store := memory.NewFromFiles(dir)

	f.logger.Info("Initialized memory backend", "data_directory", dir)
	return &Result{
		Type:     MemoryBackend,
		Source:   store,
		Writer:   store,
		Lister:   store,
		Products: memory.NewCatalogFromFiles(dir),
	}, nil
}

func dataDir(config Config) string {
	if config.DataDirectory == "" {
		return "data"
	}
	return config.DataDirectory
}
