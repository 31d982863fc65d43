package invoices

import (
	"context"
	"sort"
	"time"

	"revdash/internal/core"
)

// Ports for outbound adapters.
type (
	// Source returns every invoice the dashboard charts.
	Source interface {
		FetchAll(ctx context.Context) ([]core.Invoice, error)
	}

	// RangeSource narrows a fetch to invoices created in [start, end).
	// Optional: callers fall back to filtering FetchAll results.
	RangeSource interface {
		Source
		FetchByRange(ctx context.Context, start, end time.Time) ([]core.Invoice, error)
	}

	// Writer stores a new invoice and returns its reference.
	Writer interface {
		Create(ctx context.Context, inv core.Invoice) (ref string, err error)
	}

	// Lister pages through invoices, newest first.
	Lister interface {
		List(ctx context.Context, page, perPage int) (items []core.Invoice, total int, err error)
	}

	// Catalog looks up the products invoice lines refer to. GetProduct
	// wraps core.ErrUnknownProduct for ids it does not know.
	Catalog interface {
		SearchProducts(ctx context.Context, query string, limit int) ([]core.Product, error)
		GetProduct(ctx context.Context, id int64) (core.Product, error)
	}
)

// SearchProducts returns up to limit products whose name matches query,
// ordered by id. A limit below one means no limit.
func SearchProducts(products []core.Product, query string, limit int) []core.Product {
	out := []core.Product{}
	for _, p := range products {
		if p.Matches(query) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// InRange reports whether inv was created in [start, end).
func InRange(inv core.Invoice, start, end time.Time) bool {
	return !inv.CreatedAt.Before(start) && inv.CreatedAt.Before(end)
}

// Filter keeps the invoices created in [start, end), in input order.
func Filter(items []core.Invoice, start, end time.Time) []core.Invoice {
	var out []core.Invoice
	for _, inv := range items {
		if InRange(inv, start, end) {
			out = append(out, inv)
		}
	}
	return out
}

// Page returns the 1-based page of items; out-of-range pages are empty.
func Page(items []core.Invoice, page, perPage int) []core.Invoice {
	if page < 1 || perPage < 1 {
		return nil
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return append([]core.Invoice(nil), items[start:end]...)
}
