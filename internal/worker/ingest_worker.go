// Package worker consumes invoice events and persists them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"revdash/internal/amqp"
	"revdash/internal/core"
	"revdash/internal/invoices"
)

// Store persists invoices keyed by their own id.
type Store interface {
	Upsert(ctx context.Context, inv core.Invoice) error
}

// Stats counts messages by outcome since the worker started.
type Stats struct {
	Stored   int64
	Rejected int64
	Failed   int64
	Mirrored int64
}

// IngestWorker upserts every announced invoice into Store and, when a
// mirror is configured, appends it there too (e.g. a Google Sheet).
type IngestWorker struct {
	store  Store
	mirror invoices.Writer

	stored   atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
	mirrored atomic.Int64
}

func NewIngestWorker(store Store, mirror invoices.Writer) *IngestWorker {
	return &IngestWorker{store: store, mirror: mirror}
}

// HandleInvoiceCreated is an amqp.Handler. Invalid invoices are dropped
// without requeue; storage errors are returned so the message is retried.
func (w *IngestWorker) HandleInvoiceCreated(ctx context.Context, msg *amqp.InvoiceCreatedMessage) error {
	inv := msg.Invoice.Core()

	if err := inv.Validate(); err != nil {
		w.rejected.Add(1)
		slog.WarnContext(ctx, "Dropping invalid invoice message",
			"invoice_id", inv.ID,
			"error", err)
		return nil
	}

	if err := w.store.Upsert(ctx, inv); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("store invoice %d: %w", inv.ID, err)
	}
	w.stored.Add(1)

	slog.InfoContext(ctx, "Stored invoice from message",
		"invoice_id", inv.ID,
		"customer", inv.Customer,
		"revenue", core.FormatAmount(inv.Revenue()),
		"published_at", msg.Timestamp)

	if w.mirror != nil {
		// Mirrors append rows, so a retry would duplicate them; failures
		// are logged only.
		if ref, err := w.mirror.Create(ctx, inv); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror invoice", "invoice_id", inv.ID, "error", err)
		} else {
			w.mirrored.Add(1)
			slog.InfoContext(ctx, "Mirrored invoice", "invoice_id", inv.ID, "ref", ref)
		}
	}
	return nil
}

func (w *IngestWorker) Stats() Stats {
	return Stats{
		Stored:   w.stored.Load(),
		Rejected: w.rejected.Load(),
		Failed:   w.failed.Load(),
		Mirrored: w.mirrored.Load(),
	}
}
