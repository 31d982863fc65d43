package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revdash/internal/core"
	"revdash/internal/invoices/memory"
	"revdash/internal/log"
	"revdash/internal/services"
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

// sample spans three days with an empty day in the middle.
func sample() []core.Invoice {
	return []core.Invoice{
		invoice(1, day("2024-01-01").Add(10*time.Hour), 2, "5.0"),
		invoice(2, day("2024-01-03").Add(9*time.Hour), 1, "10.0"),
		invoice(3, day("2024-01-03").Add(15*time.Hour), 3, "1.5"),
	}
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Component: log.ComponentApp, Output: io.Discard})
}

type failingSource struct{}

func (failingSource) FetchAll(context.Context) ([]core.Invoice, error) {
	return nil, errors.New("sheet unavailable")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestEnv(t *testing.T, deps services.Deps, opts Options) *Server {
	t.Helper()
	deps.Logger = quietLogger()
	dash, err := services.NewDashboard(deps, services.DashboardConfig{Granularity: core.Daily})
	require.NoError(t, err)

	opts.Logger = quietLogger()
	if opts.Now == nil {
		opts.Now = func() time.Time { return day("2024-01-02").Add(12 * time.Hour) }
	}
	srv := NewServer(":0", dash, opts)
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv
}

func newMemoryServer(t *testing.T, opts Options) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New(sample())
	catalog := memory.NewCatalog([]core.Product{
		{ID: 11, Name: "Coffee beans 1kg", Stock: 40, Price: decimal.RequireFromString("5.00")},
		{ID: 12, Name: "Tea leaves", Stock: 25, Price: decimal.RequireFromString("10.00")},
		{ID: 13, Name: "Paper cups (50)", Stock: 120, Price: decimal.RequireFromString("2.75")},
		{ID: 14, Name: "Coffee filter papers", Stock: 60, Price: decimal.RequireFromString("1.20")},
		{ID: 15, Name: "Cane sugar 500g", Stock: 35, Price: decimal.RequireFromString("1.80")},
		{ID: 16, Name: "Oat milk 1l", Stock: 18, Price: decimal.RequireFromString("2.40")},
	})
	return newTestEnv(t, services.Deps{Source: store, Writer: store, Lister: store, Catalog: catalog}, opts), store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestReadyFailsWhenPingFails(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{Pinger: fakePinger{err: errors.New("database is closed")}})

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSeriesLoadsOnFirstRequest(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/series", "")
	require.Equal(t, http.StatusOK, rr.Code)

	got := decode[seriesResponse](t, rr)
	assert.Equal(t, "daily", got.Granularity)
	assert.Equal(t, "aggregate", got.Mode)
	assert.False(t, got.Zoomed)
	assert.Equal(t, "24.50", got.Total)
	assert.NotNil(t, got.LoadedAt)
	require.Len(t, got.Buckets, 3)
	assert.Equal(t, "2024-01-01", got.Buckets[0].Key)
	assert.Equal(t, "10.00", got.Buckets[0].Revenue)
	assert.Equal(t, 0, got.Buckets[1].InvoiceCount)
	assert.Equal(t, "0.00", got.Buckets[1].Revenue)
	assert.Equal(t, "14.50", got.Buckets[2].Revenue)
	assert.Equal(t, day("2024-01-04"), got.Buckets[2].End.UTC())
}

func TestSeriesReportsFetchFailure(t *testing.T) {
	srv := newTestEnv(t, services.Deps{Source: failingSource{}}, Options{})

	rr := do(t, srv, http.MethodGet, "/api/series", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.NotContains(t, rr.Body.String(), "sheet unavailable")
}

func TestChangeGranularity(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})
	do(t, srv, http.MethodGet, "/api/series", "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLen    int
	}{
		{"weekly", `{"granularity":"weekly"}`, http.StatusOK, 1},
		{"case insensitive", `{"granularity":"Daily"}`, http.StatusOK, 3},
		{"unknown granularity", `{"granularity":"hourly"}`, http.StatusBadRequest, 0},
		{"malformed body", `{"granularity":`, http.StatusBadRequest, 0},
		{"empty body", ``, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/granularity", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Len(t, decode[seriesResponse](t, rr).Buckets, tt.wantLen)
			}
		})
	}
}

func TestSelectAndBack(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})
	do(t, srv, http.MethodGet, "/api/series", "")

	rr := do(t, srv, http.MethodPost, "/api/select", `{"key":"2024-01-03"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[seriesResponse](t, rr)
	assert.Equal(t, "detail", got.Mode)
	assert.True(t, got.Zoomed)
	assert.Equal(t, "2024-01-03", got.SelectedKey)
	assert.Equal(t, 3, got.OriginalBuckets)
	require.Len(t, got.Buckets, 1)
	assert.Equal(t, "14.50", got.Total)

	// A second select must go through Back first.
	rr = do(t, srv, http.MethodPost, "/api/select", `{"key":"2024-01-01"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/back", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got = decode[seriesResponse](t, rr)
	assert.Equal(t, "aggregate", got.Mode)
	assert.Empty(t, got.SelectedKey)
	assert.Len(t, got.Buckets, 3)

	rr = do(t, srv, http.MethodPost, "/api/back", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSelectEdgeCases(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})
	do(t, srv, http.MethodGet, "/api/series", "")

	// Selecting the empty middle day leaves the view unchanged.
	rr := do(t, srv, http.MethodPost, "/api/select", `{"key":"2024-01-02"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "aggregate", decode[seriesResponse](t, rr).Mode)

	rr = do(t, srv, http.MethodPost, "/api/select", `{"key":"2023-12-31"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/select", `{"key":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDetail(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})
	do(t, srv, http.MethodGet, "/api/series", "")

	rr := do(t, srv, http.MethodGet, "/api/detail", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	do(t, srv, http.MethodPost, "/api/granularity", `{"granularity":"weekly"}`)
	rr = do(t, srv, http.MethodPost, "/api/select", `{"key":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/detail", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[detailResponse](t, rr)
	assert.Equal(t, "2024-01-01", got.Key)
	assert.Equal(t, day("2024-01-08"), got.End.UTC())
	assert.Equal(t, "24.50", got.Revenue)
	assert.Len(t, got.Invoices, 3)
	require.NotNil(t, got.SubSeries)
	assert.Equal(t, "daily", got.SubSeries.Granularity)
	assert.Len(t, got.SubSeries.Buckets, 3)
}

func TestListInvoices(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/invoices?page=1&per_page=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[invoiceListResponse](t, rr)
	assert.Equal(t, pageMeta{Page: 1, PerPage: 2, Total: 3, TotalPages: 2}, got.Meta)
	require.Len(t, got.Invoices, 2)
	assert.True(t, got.Invoices[0].CreatedAt.After(got.Invoices[1].CreatedAt))
	assert.Equal(t, "4.50", got.Invoices[0].Revenue)
}

func TestCreateInvoice(t *testing.T) {
	srv, store := newMemoryServer(t, Options{})
	do(t, srv, http.MethodGet, "/api/series", "")

	body := `{"customer":"Linus","salesperson":"Grace","payment_type":"credit",
		"items":[{"product_id":9,"product_name":"Gadget","quantity":4,"unit_price":"2.50"}]}`
	rr := do(t, srv, http.MethodPost, "/api/invoices", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[createInvoiceResponse](t, rr)
	assert.Equal(t, "mem:4", created.Ref)
	assert.Equal(t, int64(4), created.Invoice.ID)
	assert.Equal(t, "10.00", created.Invoice.Revenue)

	all, err := store.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// The new invoice landed on the empty middle day.
	rr = do(t, srv, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[seriesResponse](t, rr)
	assert.Equal(t, "34.50", got.Total)
	assert.Equal(t, "10.00", got.Buckets[1].Revenue)
}

func TestCreateInvoicePricesFromCatalogue(t *testing.T) {
	srv, store := newMemoryServer(t, Options{})

	body := `{"customer":"Warung Budi","salesperson":"Agus","payment_type":"CASH",
		"created_at":"2024-01-02T09:00:00Z",
		"details":[{"product_id":12,"quantity":2},{"product_id":11,"quantity":1,"unit_price":"4.50"}]}`
	rr := do(t, srv, http.MethodPost, "/api/invoices", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[createInvoiceResponse](t, rr)
	assert.Equal(t, int64(4), created.Invoice.ID)
	assert.Equal(t, "24.50", created.Invoice.Revenue)
	require.Len(t, created.Invoice.Items, 2)
	assert.Equal(t, "Tea leaves", created.Invoice.Items[0].ProductName)
	assert.Equal(t, "Coffee beans 1kg", created.Invoice.Items[1].ProductName)

	all, err := store.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)

	rr = do(t, srv, http.MethodPost, "/api/invoices",
		`{"customer":"Ada","salesperson":"Grace","payment_type":"CASH","items":[{"product_id":99,"quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown product")
}

func TestProducts(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[productListResponse](t, rr)
	require.Len(t, got.Products, services.DefaultProductLimit)
	assert.Equal(t, int64(11), got.Products[0].ID)
	assert.False(t, got.Meta.IsSearch)
	assert.Equal(t, 5, got.Meta.Count)

	rr = do(t, srv, http.MethodGet, "/api/products?q=coffee", "")
	require.Equal(t, http.StatusOK, rr.Code)
	got = decode[productListResponse](t, rr)
	require.Len(t, got.Products, 2)
	assert.Equal(t, "Coffee filter papers", got.Products[1].Name)
	assert.True(t, got.Products[1].Price.Equal(decimal.RequireFromString("1.2")))
	assert.Equal(t, productMeta{Query: "coffee", IsSearch: true, Count: 2}, got.Meta)

	rr = do(t, srv, http.MethodGet, "/api/products?q=milk&limit=1", "")
	got = decode[productListResponse](t, rr)
	require.Len(t, got.Products, 1)
	assert.Equal(t, int64(16), got.Products[0].ID)

	rr = do(t, srv, http.MethodGet, "/api/products?q=nothing", "")
	assert.JSONEq(t, `{"products":[],"meta":{"query":"nothing","is_search":true,"count":0}}`, rr.Body.String())
}

func TestProductsWithoutCatalogue(t *testing.T) {
	srv := newTestEnv(t, services.Deps{Source: memory.New(sample())}, Options{})
	rr := do(t, srv, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateInvoiceRejectsInvalidInput(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"no items", `{"customer":"Ada","salesperson":"Grace","payment_type":"cash","items":[]}`},
		{"bad payment type", `{"customer":"Ada","salesperson":"Grace","payment_type":"barter","items":[{"product_id":1,"quantity":1,"unit_price":"1"}]}`},
		{"zero quantity", `{"customer":"Ada","salesperson":"Grace","payment_type":"cash","items":[{"product_id":1,"quantity":0,"unit_price":"1"}]}`},
		{"missing customer", `{"salesperson":"Grace","payment_type":"cash","items":[{"product_id":1,"quantity":1,"unit_price":"1"}]}`},
		{"unknown field", `{"customer":"Ada","discount":5}`},
		{"created_at out of range", `{"customer":"Ada","salesperson":"Grace","payment_type":"cash","created_at":"2300-01-01T00:00:00Z","items":[{"product_id":1,"quantity":1,"unit_price":"1"}]}`},
		{"unknown product without price", `{"customer":"Ada","salesperson":"Grace","payment_type":"cash","items":[{"product_id":1,"quantity":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/invoices", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestCreateInvoiceReadOnlyBackend(t *testing.T) {
	store := memory.New(sample())
	srv := newTestEnv(t, services.Deps{Source: store}, Options{})

	rr := do(t, srv, http.MethodPost, "/api/invoices", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	assert.NotEqual(t, "bad id\n", rr.Header().Get("X-Request-ID"))
}

func TestRequestsAreLoggedWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	store := memory.New(sample())
	dash, err := services.NewDashboard(services.Deps{Source: store, Logger: quietLogger()}, services.DashboardConfig{})
	require.NoError(t, err)
	srv := NewServer(":0", dash, Options{Logger: log.New(log.Config{Component: log.ComponentApp, Output: &buf})})
	t.Cleanup(func() { srv.rateLimiter.stop() })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	srv.Handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "HTTP request completed")
	assert.Contains(t, out, "request_id=trace-1")
	assert.Contains(t, out, "status_code=200")
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{RateLimit: 2})
	do(t, srv, http.MethodGet, "/api/series", "")

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPost, "/api/back", "")
		assert.Equal(t, http.StatusConflict, rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/api/back", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// Reads are not limited.
	rr = do(t, srv, http.MethodGet, "/api/series", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), srv.SecurityStats().RateLimitHits)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})

	rr := do(t, srv, http.MethodDelete, "/api/series", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, _ := newMemoryServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, srv.Shutdown(ctx))
}
