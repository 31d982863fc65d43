package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revdash/internal/cache"
	"revdash/internal/core"
	"revdash/internal/drill"
	"revdash/internal/invoices/memory"
	"revdash/internal/log"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func invoice(id int64, at time.Time, qty int64, price string) core.Invoice {
	return core.Invoice{
		ID:          id,
		CreatedAt:   at,
		Customer:    "Ada",
		Salesperson: "Grace",
		PaymentType: core.PaymentCash,
		Items:       []core.LineItem{{ProductID: 1, ProductName: "Widget", Quantity: qty, UnitPrice: decimal.RequireFromString(price)}},
	}
}

func sample() []core.Invoice {
	return []core.Invoice{
		invoice(1, day("2024-01-01").Add(10*time.Hour), 2, "5.0"),
		invoice(2, day("2024-01-03").Add(9*time.Hour), 1, "10.0"),
		invoice(3, day("2024-01-03").Add(15*time.Hour), 3, "1.5"),
	}
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Component: log.ComponentApp, Output: &bytes.Buffer{}})
}

// countingSource wraps a store, counting FetchAll calls and optionally failing.
type countingSource struct {
	*memory.Store
	calls atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
}

func (s *countingSource) FetchAll(ctx context.Context) ([]core.Invoice, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.fail.Load() {
		return nil, errors.New("upstream unavailable")
	}
	return s.Store.FetchAll(ctx)
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []core.Invoice
	err  error
}

func (p *recordingPublisher) PublishInvoiceCreated(_ context.Context, inv core.Invoice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, inv)
	return p.err
}

func newDashboard(t *testing.T, deps Deps, cfg DashboardConfig) *Dashboard {
	t.Helper()
	deps.Logger = quietLogger()
	d, err := NewDashboard(deps, cfg)
	require.NoError(t, err)
	return d
}

func TestNewDashboardRequiresSource(t *testing.T) {
	_, err := NewDashboard(Deps{}, DashboardConfig{})
	assert.Error(t, err)
}

func TestNewDashboardRejectsBadGranularity(t *testing.T) {
	_, err := NewDashboard(Deps{Source: memory.New(nil)}, DashboardConfig{Granularity: "hourly"})
	assert.ErrorIs(t, err, core.ErrInvalidGranularity)
}

func TestLoadBuildsSeries(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{Granularity: core.Daily})

	view, err := d.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.Daily, view.Granularity)
	assert.Equal(t, drill.ZoomState{Mode: drill.Aggregate}, view.State)
	assert.False(t, view.Zoomed)
	require.Equal(t, 3, view.Series.Len())
	assert.True(t, view.Series.Total().Equal(decimal.RequireFromString("24.5")))
	assert.False(t, view.LoadedAt.IsZero())
}

func TestLoadUsesCache(t *testing.T) {
	src := &countingSource{Store: memory.New(sample())}
	c := cache.NewLRUCache[[]core.Invoice](4, time.Minute)
	d := newDashboard(t, Deps{Source: src, Cache: c}, DashboardConfig{Granularity: core.Daily})

	_, err := d.Load(context.Background())
	require.NoError(t, err)
	_, err = d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = d.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	src := &countingSource{Store: memory.New(sample()), gate: make(chan struct{})}
	d := newDashboard(t, Deps{Source: src}, DashboardConfig{Granularity: core.Daily})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(5))
	assert.Equal(t, 3, d.View().Series.Len())
}

func TestFailedFetchKeepsPreviousView(t *testing.T) {
	src := &countingSource{Store: memory.New(sample())}
	d := newDashboard(t, Deps{Source: src}, DashboardConfig{Granularity: core.Daily})
	before, err := d.Load(context.Background())
	require.NoError(t, err)

	src.fail.Store(true)
	after, err := d.Refresh(context.Background())

	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Same(t, before.Series, after.Series)
	assert.Equal(t, before.LoadedAt, after.LoadedAt)
}

func TestFetchTimeout(t *testing.T) {
	slow := &blockingSource{}
	d := newDashboard(t, Deps{Source: slow}, DashboardConfig{Granularity: core.Daily, FetchTimeout: 10 * time.Millisecond})

	_, err := d.Load(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingSource struct{}

func (blockingSource) FetchAll(ctx context.Context) ([]core.Invoice, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNavigationRoundTrip(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{Granularity: core.Daily})
	loaded, err := d.Load(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	view, err := d.Select(ctx, day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, drill.Detail, view.State.Mode)
	assert.True(t, view.Zoomed)
	assert.Equal(t, 1, view.Series.Len())

	_, err = d.Select(ctx, day("2024-01-01"))
	assert.ErrorIs(t, err, drill.ErrInvalidTransition)

	view, err = d.Back(ctx)
	require.NoError(t, err)
	assert.Same(t, loaded.Original, view.Series)

	_, err = d.Back(ctx)
	assert.ErrorIs(t, err, drill.ErrInvalidTransition)
}

func TestChangeGranularity(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{Granularity: core.Daily})
	_, err := d.Load(context.Background())
	require.NoError(t, err)

	view, err := d.ChangeGranularity(context.Background(), core.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Series.Len())

	_, err = d.ChangeGranularity(context.Background(), "yearly")
	assert.ErrorIs(t, err, core.ErrInvalidGranularity)
	assert.Equal(t, core.Monthly, d.View().Granularity)
}

func TestDetailRequiresSelection(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{Granularity: core.Daily})
	_, err := d.Load(context.Background())
	require.NoError(t, err)

	_, err = d.Detail(context.Background())
	assert.ErrorIs(t, err, drill.ErrInvalidTransition)
}

func TestDetailSubSeries(t *testing.T) {
	records := append(sample(), invoice(4, day("2024-01-06").Add(time.Hour), 1, "2"))
	d := newDashboard(t, Deps{Source: memory.New(records)}, DashboardConfig{Granularity: core.Weekly})
	_, err := d.Load(context.Background())
	require.NoError(t, err)
	_, err = d.Select(context.Background(), day("2024-01-01"))
	require.NoError(t, err)

	detail, err := d.Detail(context.Background())
	require.NoError(t, err)

	assert.True(t, detail.Key.Equal(day("2024-01-01")))
	assert.True(t, detail.End.Equal(day("2024-01-08")))
	assert.Len(t, detail.Invoices, 4)
	require.NotNil(t, detail.SubSeries)
	assert.Equal(t, core.Daily, detail.SubSeries.Granularity())
	assert.Equal(t, 6, detail.SubSeries.Len())
	assert.True(t, detail.SubSeries.Total().Equal(decimal.RequireFromString("26.5")))
}

func TestDetailDailyHasNoSubSeries(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{Granularity: core.Daily})
	_, err := d.Load(context.Background())
	require.NoError(t, err)
	_, err = d.Select(context.Background(), day("2024-01-03"))
	require.NoError(t, err)

	detail, err := d.Detail(context.Background())
	require.NoError(t, err)
	assert.Len(t, detail.Invoices, 2)
	assert.Nil(t, detail.SubSeries)
}

func TestDetailServerNarrowingSeesNewInvoices(t *testing.T) {
	store := memory.New(sample())
	d := newDashboard(t, Deps{Source: store}, DashboardConfig{Granularity: core.Daily, ServerNarrowing: true})
	_, err := d.Load(context.Background())
	require.NoError(t, err)
	_, err = d.Select(context.Background(), day("2024-01-03"))
	require.NoError(t, err)

	_, err = store.Create(context.Background(), invoice(0, day("2024-01-03").Add(20*time.Hour), 1, "1"))
	require.NoError(t, err)

	detail, err := d.Detail(context.Background())
	require.NoError(t, err)
	assert.Len(t, detail.Invoices, 3)
}

func TestCreateInvoicePublishesAndInvalidatesCache(t *testing.T) {
	store := memory.New(sample())
	pub := &recordingPublisher{}
	c := cache.NewLRUCache[[]core.Invoice](4, time.Minute)
	d := newDashboard(t, Deps{Source: store, Writer: store, Publisher: pub, Cache: c}, DashboardConfig{Granularity: core.Daily})
	_, err := d.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, c.Size())

	created, ref, err := d.CreateInvoice(context.Background(), invoice(0, day("2024-01-05"), 1, "3"))
	require.NoError(t, err)
	assert.Equal(t, "mem:4", ref)
	assert.Equal(t, int64(4), created.ID)
	assert.Equal(t, 0, c.Size())
	require.Len(t, pub.sent, 1)
	assert.Equal(t, int64(4), pub.sent[0].ID)

	view, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, view.Series.Len())
}

// stalledSource snapshots the store, then waits for release before
// returning, so writes can land while the snapshot is in flight.
type stalledSource struct {
	*memory.Store
	fetched chan struct{}
	release chan struct{}
}

func (s *stalledSource) FetchAll(ctx context.Context) ([]core.Invoice, error) {
	records, err := s.Store.FetchAll(ctx)
	select {
	case s.fetched <- struct{}{}:
	default:
	}
	<-s.release
	return records, err
}

func TestCreateDuringFetchDoesNotCacheStaleRecords(t *testing.T) {
	store := memory.New(sample())
	src := &stalledSource{Store: store, fetched: make(chan struct{}, 1), release: make(chan struct{})}
	c := cache.NewLRUCache[[]core.Invoice](4, time.Minute)
	d := newDashboard(t, Deps{Source: src, Writer: store, Cache: c}, DashboardConfig{Granularity: core.Daily})

	done := make(chan error, 1)
	go func() {
		_, err := d.Load(context.Background())
		done <- err
	}()
	<-src.fetched

	_, _, err := d.CreateInvoice(context.Background(), invoice(0, day("2024-01-05"), 1, "7"))
	require.NoError(t, err)

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, c.Size(), "stale snapshot must not be cached")

	view, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, view.Series.Total().Equal(decimal.RequireFromString("31.5")), view.Series.Total().String())
	assert.Equal(t, 1, c.Size())
}

func TestRefreshDuringFetchStartsNewFetch(t *testing.T) {
	store := memory.New(sample())
	src := &stalledSource{Store: store, fetched: make(chan struct{}, 1), release: make(chan struct{})}
	c := cache.NewLRUCache[[]core.Invoice](4, time.Minute)
	d := newDashboard(t, Deps{Source: src, Cache: c}, DashboardConfig{Granularity: core.Daily})

	done := make(chan error, 1)
	go func() {
		_, err := d.Load(context.Background())
		done <- err
	}()
	<-src.fetched
	_, err := store.Create(context.Background(), invoice(0, day("2024-01-05"), 1, "7"))
	require.NoError(t, err)

	refreshed := make(chan View, 1)
	go func() {
		view, err := d.Refresh(context.Background())
		assert.NoError(t, err)
		refreshed <- view
	}()
	<-src.fetched
	close(src.release)

	require.NoError(t, <-done)
	view := <-refreshed
	assert.True(t, view.Series.Total().Equal(decimal.RequireFromString("31.5")), view.Series.Total().String())
	cached, ok := c.Get(recordsKey)
	require.True(t, ok)
	assert.Len(t, cached, 4)
}

func TestCreateInvoiceSurvivesPublishFailure(t *testing.T) {
	store := memory.New(nil)
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := newDashboard(t, Deps{Source: store, Writer: store, Publisher: pub}, DashboardConfig{})

	_, _, err := d.CreateInvoice(context.Background(), invoice(0, day("2024-01-05"), 1, "3"))
	assert.NoError(t, err)
}

func TestCreateInvoiceErrors(t *testing.T) {
	readOnly := newDashboard(t, Deps{Source: memory.New(nil)}, DashboardConfig{})
	_, _, err := readOnly.CreateInvoice(context.Background(), invoice(0, day("2024-01-05"), 1, "3"))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.False(t, readOnly.CanWrite())

	store := memory.New(nil)
	d := newDashboard(t, Deps{Source: store, Writer: store}, DashboardConfig{})
	bad := invoice(0, day("2024-01-05"), 1, "3")
	bad.Items = nil
	_, _, err = d.CreateInvoice(context.Background(), bad)
	assert.ErrorIs(t, err, core.ErrNoItems)
	assert.True(t, core.IsValidationError(err))
}

func TestListInvoicesFallsBackToRecords(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(sample())}, DashboardConfig{})

	items, total, err := d.ListInvoices(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.Equal(t, int64(2), items[1].ID)
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref string
		id  int64
		ok  bool
	}{
		{"42", 42, true},
		{"mem:7", 7, true},
		{"", 0, false},
		{"abc", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		id, ok := parseRef(tt.ref)
		assert.Equal(t, tt.ok, ok, tt.ref)
		assert.Equal(t, tt.id, id, tt.ref)
	}
}

func testCatalog() *memory.Catalog {
	return memory.NewCatalog([]core.Product{
		{ID: 11, Name: "Coffee beans 1kg", Stock: 40, Price: decimal.RequireFromString("5.00")},
		{ID: 12, Name: "Tea leaves", Stock: 25, Price: decimal.RequireFromString("10.00")},
		{ID: 13, Name: "Paper cups (50)", Stock: 120, Price: decimal.RequireFromString("2.75")},
		{ID: 14, Name: "Coffee filter papers", Stock: 60, Price: decimal.RequireFromString("1.20")},
		{ID: 15, Name: "Cane sugar 500g", Stock: 35, Price: decimal.RequireFromString("1.80")},
		{ID: 16, Name: "Oat milk 1l", Stock: 18, Price: decimal.RequireFromString("2.40")},
	})
}

func TestSearchProducts(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(nil), Catalog: testCatalog()}, DashboardConfig{})
	ctx := context.Background()

	suggestions, err := d.SearchProducts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, suggestions, DefaultProductLimit)
	assert.Equal(t, int64(11), suggestions[0].ID)

	found, err := d.SearchProducts(ctx, "coffee", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(14), found[1].ID)

	all, err := d.SearchProducts(ctx, "", 1000)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none := newDashboard(t, Deps{Source: memory.New(nil)}, DashboardConfig{})
	_, err = none.SearchProducts(ctx, "", 0)
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestResolveLines(t *testing.T) {
	d := newDashboard(t, Deps{Source: memory.New(nil), Catalog: testCatalog()}, DashboardConfig{})
	ctx := context.Background()
	explicit := decimal.RequireFromString("4.00")

	items, err := d.ResolveLines(ctx, []LineDraft{
		{ProductID: 12, Quantity: 2},
		{ProductID: 11, ProductName: "House blend", Quantity: 1, UnitPrice: &explicit},
		{ProductID: 99, ProductName: "Custom", Quantity: 1, UnitPrice: &explicit},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "Tea leaves", items[0].ProductName)
	assert.True(t, items[1].UnitPrice.Equal(explicit))
	assert.Equal(t, "House blend", items[1].ProductName)
	assert.Equal(t, "Custom", items[2].ProductName)

	_, err = d.ResolveLines(ctx, []LineDraft{{ProductID: 99, Quantity: 1}})
	assert.ErrorIs(t, err, core.ErrUnknownProduct)
	assert.True(t, core.IsValidationError(err))

	bare := newDashboard(t, Deps{Source: memory.New(nil)}, DashboardConfig{})
	_, err = bare.ResolveLines(ctx, []LineDraft{{ProductID: 12, Quantity: 1}})
	assert.ErrorIs(t, err, core.ErrInvalidPrice)
	items, err = bare.ResolveLines(ctx, []LineDraft{{ProductID: 12, Quantity: 1, UnitPrice: &explicit}})
	require.NoError(t, err)
	assert.Empty(t, items[0].ProductName)
}
