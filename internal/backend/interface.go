// Package backend builds the invoice data source selected by DATA_BACKEND.
package backend

import (
	"context"

	"revdash/internal/core"
	"revdash/internal/invoices"
)

// Publisher announces stored invoices.
type Publisher interface {
	PublishInvoiceCreated(ctx context.Context, inv core.Invoice) error
}

// Pinger is implemented by backends with a live connection to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// Result bundles the ports a backend offers. Writer, Lister, Products,
// Publisher and Pinger are nil when the backend cannot serve them.
type Result struct {
	Type      BackendType
	Source    invoices.Source
	Writer    invoices.Writer
	Lister    invoices.Lister
	Products  invoices.Catalog
	Publisher Publisher
	Pinger    Pinger
	Cleanup   CleanupFunc
}

// Close runs Cleanup when present.
func (r *Result) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Memory backend specific
	DataDirectory string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
