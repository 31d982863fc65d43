// Package services orchestrates the dashboard: fetching invoices, owning
// the drill-down navigator and forwarding new invoices to storage and AMQP.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"revdash/internal/cache"
	"revdash/internal/core"
	"revdash/internal/drill"
	"revdash/internal/invoices"
	"revdash/internal/log"
)

const recordsKey = "invoices:all"

var (
	// ErrFetchFailed wraps any error returned by the invoice source.
	ErrFetchFailed = errors.New("fetch invoices")
	// ErrReadOnly is returned by CreateInvoice when no writer is configured.
	ErrReadOnly = errors.New("backend is read-only")
	// ErrNoCatalog is returned by SearchProducts when the backend has no
	// product catalogue.
	ErrNoCatalog = errors.New("product catalogue unavailable")
)

const (
	// DefaultProductLimit is the number of suggestions returned when a
	// search does not ask for a limit.
	DefaultProductLimit = 5
	MaxProductLimit     = 50
)

// Publisher announces stored invoices, e.g. on AMQP.
type Publisher interface {
	PublishInvoiceCreated(ctx context.Context, inv core.Invoice) error
}

// DashboardConfig tunes fetching and the initial view.
type DashboardConfig struct {
	Granularity core.Granularity
	// FetchTimeout bounds each source call; zero means no extra deadline.
	FetchTimeout time.Duration
	// ServerNarrowing re-fetches a selected bucket through RangeSource
	// instead of reusing the invoices already held by the navigator.
	ServerNarrowing bool
}

// Deps are the collaborators of a Dashboard. Only Source is required.
type Deps struct {
	Source    invoices.Source
	Writer    invoices.Writer
	Lister    invoices.Lister
	Catalog   invoices.Catalog
	Publisher Publisher
	Cache     cache.Cache[[]core.Invoice]
	Logger    *log.Logger
}

// View is a consistent snapshot of what the dashboard presents.
type View struct {
	Granularity core.Granularity
	State       drill.ZoomState
	Zoomed      bool
	Series      *core.Series
	Original    *core.Series
	LoadedAt    time.Time
}

// DetailView lists the invoices of the selected bucket and, when the
// granularity has a finer one, the bucket re-aggregated at that level.
type DetailView struct {
	Key       time.Time
	End       time.Time
	Invoices  []core.Invoice
	SubSeries *core.Series
}

// Dashboard serializes navigator transitions behind a mutex. Fetches run
// outside the lock and are deduplicated, so a slow source never blocks
// readers and a failed fetch leaves the previous view in place.
type Dashboard struct {
	deps   Deps
	cfg    DashboardConfig
	logger *log.Logger
	events *log.StructuredLogger
	group  singleflight.Group
	// gen is bumped whenever cached records become stale; a fetch only
	// caches its result when no invalidation happened while it ran.
	gen atomic.Uint64

	mu       sync.Mutex
	nav      *drill.Navigator
	loadedAt time.Time
}

func NewDashboard(deps Deps, cfg DashboardConfig) (*Dashboard, error) {
	if deps.Source == nil {
		return nil, errors.New("dashboard: missing invoice source")
	}
	if cfg.Granularity == "" {
		cfg.Granularity = core.Weekly
	}
	nav, err := drill.New(nil, cfg.Granularity)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentDashboard)

	return &Dashboard{
		deps:   deps,
		cfg:    cfg,
		nav:    nav,
		logger: logger,
		events: log.NewStructuredLogger(logger),
	}, nil
}

// Load fetches the records (from cache when warm) and rebuilds the view.
func (d *Dashboard) Load(ctx context.Context) (View, error) {
	records, err := d.fetch(ctx, false)
	if err != nil {
		return d.View(), err
	}
	return d.reload(ctx, records)
}

// Refresh bypasses the cache and rebuilds the view from the source.
func (d *Dashboard) Refresh(ctx context.Context) (View, error) {
	records, err := d.fetch(ctx, true)
	if err != nil {
		return d.View(), err
	}
	return d.reload(ctx, records)
}

func (d *Dashboard) reload(ctx context.Context, records []core.Invoice) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.nav.Reload(records); err != nil {
		return d.viewLocked(), err
	}
	d.loadedAt = time.Now()
	d.events.LogTransition(ctx, log.OpRefresh, d.nav.Granularity().String(), string(d.nav.Mode()),
		log.LogFields{log.FieldInvoiceCount: len(records), log.FieldBuckets: d.nav.Current().Len()})
	return d.viewLocked(), nil
}

// invalidate drops cached records and detaches in-flight fetches, so the
// next fetch reads the source again.
func (d *Dashboard) invalidate() {
	d.gen.Add(1)
	d.group.Forget(recordsKey)
	if d.deps.Cache != nil {
		d.deps.Cache.Purge()
	}
}

func (d *Dashboard) fetch(ctx context.Context, fresh bool) ([]core.Invoice, error) {
	if fresh {
		d.invalidate()
	}
	if !fresh && d.deps.Cache != nil {
		if records, ok := d.deps.Cache.Get(recordsKey); ok {
			return records, nil
		}
	}

	v, err, shared := d.group.Do(recordsKey, func() (any, error) {
		gen := d.gen.Load()
		fctx, cancel := d.fetchContext(ctx)
		defer cancel()

		start := time.Now()
		records, err := d.deps.Source.FetchAll(fctx)
		if err != nil {
			return nil, err
		}
		d.logger.DebugContext(ctx, "Fetched invoices",
			log.FieldInvoiceCount, len(records),
			log.FieldDuration, time.Since(start).Milliseconds())
		if d.deps.Cache != nil && d.gen.Load() == gen {
			d.deps.Cache.Set(recordsKey, records)
		}
		return records, nil
	})
	if err != nil {
		d.events.LogError(ctx, "Invoice fetch failed", err, log.OpFetch, nil)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if shared {
		d.logger.DebugContext(ctx, "Joined in-flight invoice fetch")
	}
	return v.([]core.Invoice), nil
}

func (d *Dashboard) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, d.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// View returns the current snapshot.
func (d *Dashboard) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

func (d *Dashboard) viewLocked() View {
	return View{
		Granularity: d.nav.Granularity(),
		State:       d.nav.State(),
		Zoomed:      d.nav.IsZoomed(),
		Series:      d.nav.Current(),
		Original:    d.nav.Original(),
		LoadedAt:    d.loadedAt,
	}
}

// ChangeGranularity re-buckets the loaded records; any drill-down is discarded.
func (d *Dashboard) ChangeGranularity(ctx context.Context, g core.Granularity) (View, error) {
	return d.transition(ctx, log.OpGranularity, nil, func(n *drill.Navigator) error {
		return n.ChangeGranularity(g)
	})
}

// Select zooms into the bucket starting at key.
func (d *Dashboard) Select(ctx context.Context, key time.Time) (View, error) {
	return d.transition(ctx, log.OpSelect, log.LogFields{log.FieldBucketKey: key.Format(time.DateOnly)},
		func(n *drill.Navigator) error { return n.Select(key) })
}

// Back returns to the aggregate view.
func (d *Dashboard) Back(ctx context.Context) (View, error) {
	return d.transition(ctx, log.OpBack, nil, func(n *drill.Navigator) error { return n.Back() })
}

func (d *Dashboard) transition(ctx context.Context, op string, fields log.LogFields, apply func(*drill.Navigator) error) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := apply(d.nav); err != nil {
		return d.viewLocked(), err
	}
	d.events.LogTransition(ctx, op, d.nav.Granularity().String(), string(d.nav.Mode()), fields)
	return d.viewLocked(), nil
}

// Detail describes the selected bucket. It fails with
// drill.ErrInvalidTransition outside Detail mode.
func (d *Dashboard) Detail(ctx context.Context) (DetailView, error) {
	d.mu.Lock()
	key, ok := d.nav.SelectedKey()
	g := d.nav.Granularity()
	held := d.nav.Detail()
	d.mu.Unlock()

	if !ok {
		return DetailView{}, fmt.Errorf("detail without a selected bucket: %w", drill.ErrInvalidTransition)
	}
	end, err := g.BucketEnd(key)
	if err != nil {
		return DetailView{}, err
	}

	items := held
	if rs, ok := d.deps.Source.(invoices.RangeSource); ok && d.cfg.ServerNarrowing {
		fctx, cancel := d.fetchContext(ctx)
		narrowed, err := rs.FetchByRange(fctx, key, end)
		cancel()
		if err != nil {
			d.events.LogError(ctx, "Range fetch failed, using loaded invoices", err, log.OpFetch,
				log.LogFields{log.FieldBucketKey: key.Format(time.DateOnly)})
		} else {
			items = narrowed
		}
	}

	view := DetailView{Key: key, End: end, Invoices: items}
	if finer, ok := g.Finer(); ok {
		sub, err := core.Aggregate(items, finer)
		if err != nil {
			return DetailView{}, err
		}
		view.SubSeries = sub
	}
	return view, nil
}

// CreateInvoice stores inv, announces it and drops cached records so the
// next load sees it. It returns the invoice as stored, with its id.
func (d *Dashboard) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, string, error) {
	if d.deps.Writer == nil {
		return core.Invoice{}, "", ErrReadOnly
	}
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, "", err
	}

	ref, err := d.deps.Writer.Create(ctx, inv)
	if err != nil {
		return core.Invoice{}, "", fmt.Errorf("save invoice: %w", err)
	}
	d.invalidate()
	if id, ok := parseRef(ref); ok {
		inv.ID = id
	}
	d.events.LogInvoiceCreated(ctx, inv.ID, inv.Customer, core.FormatAmount(inv.Revenue()), ref)

	if d.deps.Publisher != nil && inv.ID > 0 {
		if err := d.deps.Publisher.PublishInvoiceCreated(ctx, inv); err != nil {
			// The invoice is stored; delivery is best effort.
			d.events.LogError(ctx, "Failed to publish invoice created message", err, log.OpCreate,
				log.LogFields{log.FieldInvoiceID: inv.ID})
		}
	}
	return inv, ref, nil
}

// LineDraft is a submitted invoice line. A nil UnitPrice is taken from
// the product catalogue.
type LineDraft struct {
	ProductID   int64
	ProductName string
	Quantity    int64
	UnitPrice   *decimal.Decimal
}

// ResolveLines turns drafts into line items, pricing and naming lines
// from the catalogue where the draft leaves them out.
func (d *Dashboard) ResolveLines(ctx context.Context, drafts []LineDraft) ([]core.LineItem, error) {
	items := make([]core.LineItem, len(drafts))
	for i, ln := range drafts {
		item := core.LineItem{ProductID: ln.ProductID, ProductName: ln.ProductName, Quantity: ln.Quantity}
		if ln.UnitPrice != nil {
			item.UnitPrice = *ln.UnitPrice
		}
		needPrice := ln.UnitPrice == nil
		if needPrice && d.deps.Catalog == nil {
			return nil, fmt.Errorf("item %d: unit_price is required: %w", i+1, core.ErrInvalidPrice)
		}
		if d.deps.Catalog != nil && (needPrice || item.ProductName == "") {
			p, err := d.deps.Catalog.GetProduct(ctx, ln.ProductID)
			switch {
			case err == nil:
				if needPrice {
					item.UnitPrice = p.Price
				}
				if item.ProductName == "" {
					item.ProductName = p.Name
				}
			case needPrice:
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
		}
		items[i] = item
	}
	return items, nil
}

// SearchProducts returns catalogue entries whose name contains query,
// ordered by id. A limit below one means DefaultProductLimit.
func (d *Dashboard) SearchProducts(ctx context.Context, query string, limit int) ([]core.Product, error) {
	if d.deps.Catalog == nil {
		return nil, ErrNoCatalog
	}
	if limit < 1 {
		limit = DefaultProductLimit
	}
	if limit > MaxProductLimit {
		limit = MaxProductLimit
	}
	products, err := d.deps.Catalog.SearchProducts(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return products, nil
}

// ListInvoices pages through invoices newest first. Sources without a
// Lister are paged in memory from the loaded records.
func (d *Dashboard) ListInvoices(ctx context.Context, page, perPage int) ([]core.Invoice, int, error) {
	if d.deps.Lister != nil {
		items, total, err := d.deps.Lister.List(ctx, page, perPage)
		if err != nil {
			return nil, 0, fmt.Errorf("list invoices: %w", err)
		}
		return items, total, nil
	}

	records, err := d.fetch(ctx, false)
	if err != nil {
		return nil, 0, err
	}
	sorted := append([]core.Invoice(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return invoices.Page(sorted, page, perPage), len(sorted), nil
}

// CanWrite reports whether CreateInvoice is available.
func (d *Dashboard) CanWrite() bool {
	return d.deps.Writer != nil
}

// parseRef extracts a numeric id from refs such as "42" or "mem:42".
func parseRef(ref string) (int64, bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] < '0' || ref[i] > '9' {
			ref = ref[i+1:]
			break
		}
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	return id, err == nil && id > 0
}
