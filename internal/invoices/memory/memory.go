package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"revdash/internal/core"
	"revdash/internal/invoices"
)

// Ensure interface conformance
var (
	_ invoices.RangeSource = (*Store)(nil)
	_ invoices.Writer      = (*Store)(nil)
	_ invoices.Lister      = (*Store)(nil)
)

type Store struct {
	mu     sync.Mutex
	items  []core.Invoice
	nextID int64
}

func New(items []core.Invoice) *Store {
	s := &Store{items: append([]core.Invoice(nil), items...)}
	for _, inv := range items {
		if inv.ID > s.nextID {
			s.nextID = inv.ID
		}
	}
	return s
}

// NewFromFiles seeds the store from base/seed_invoices.json. A missing
// or unreadable file yields an empty store.
func NewFromFiles(base string) *Store {
	return New(readSeed(filepath.Join(base, "seed_invoices.json")))
}

// FetchAll returns a snapshot of every stored invoice.
func (s *Store) FetchAll(_ context.Context) ([]core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Invoice(nil), s.items...), nil
}

// FetchByRange returns invoices created in [start, end).
func (s *Store) FetchByRange(_ context.Context, start, end time.Time) ([]core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return invoices.Filter(s.items, start, end), nil
}

// Create validates and stores the invoice, assigning an id when missing.
func (s *Store) Create(_ context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		s.nextID++
		inv.ID = s.nextID
	} else if inv.ID > s.nextID {
		s.nextID = inv.ID
	}
	s.items = append(s.items, inv)
	return "mem:" + strconv.FormatInt(inv.ID, 10), nil
}

// List pages through invoices, newest first.
func (s *Store) List(_ context.Context, page, perPage int) ([]core.Invoice, int, error) {
	s.mu.Lock()
	sorted := append([]core.Invoice(nil), s.items...)
	s.mu.Unlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return invoices.Page(sorted, page, perPage), len(sorted), nil
}

func readSeed(path string) []core.Invoice {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	items, err := decodeSeed(body)
	if err != nil {
		return nil
	}
	return items
}

func decodeSeed(body []byte) ([]core.Invoice, error) {
	var raw []invoices.InvoiceJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode seed invoices: %w", err)
	}
	out := make([]core.Invoice, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.Core())
	}
	return out, nil
}
