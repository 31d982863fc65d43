package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"revdash/internal/core"
	"revdash/internal/invoices"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var (
	_ invoices.RangeSource = (*Client)(nil)
	_ invoices.Writer      = (*Client)(nil)
	_ invoices.Lister      = (*Client)(nil)
)

// Options configures a Sheets client.
type Options struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = "Invoices"
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: opts.SpreadsheetID, sheetName: sheet}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when neither option is set.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	inline := strings.TrimSpace(opts.ServiceAccountJSON)
	file := strings.TrimSpace(opts.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(inline)
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// FetchAll implements invoices.Source
func (c *Client) FetchAll(ctx context.Context) ([]core.Invoice, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:J", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out, skipped := parseRows(resp.Values)
	if len(skipped) > 0 {
		slog.WarnContext(ctx, "Skipped malformed invoice rows",
			"sheet", c.sheetName,
			"count", len(skipped),
			"first_error", skipped[0])
	}
	return out, nil
}

// FetchByRange implements invoices.RangeSource. The Sheets API has no
// server-side filter, so the whole sheet is read and filtered here.
func (c *Client) FetchByRange(ctx context.Context, start, end time.Time) ([]core.Invoice, error) {
	all, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return invoices.Filter(all, start, end), nil
}

// Create implements invoices.Writer by appending one row per line item
// and returns the invoice id. Invoices without an id get the next id
// after the largest in the sheet.
func (c *Client) Create(ctx context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	if inv.ID <= 0 {
		all, err := c.FetchAll(ctx)
		if err != nil {
			return "", err
		}
		inv.ID = nextID(all)
	}

	rng := fmt.Sprintf("%s!A:J", c.sheetName)
	vr := &gsheet.ValueRange{Values: formatRows(inv)}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append invoice %d to sheet %s: %w", inv.ID, c.sheetName, err)
	}

	if resp.Updates != nil {
		slog.InfoContext(ctx, "Invoice appended to sheet",
			"invoice_id", inv.ID,
			"range", resp.Updates.UpdatedRange)
	}
	return strconv.FormatInt(inv.ID, 10), nil
}

// List implements invoices.Lister
func (c *Client) List(ctx context.Context, page, perPage int) ([]core.Invoice, int, error) {
	all, err := c.FetchAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	newestFirst(all)
	return invoices.Page(all, page, perPage), len(all), nil
}

func nextID(items []core.Invoice) int64 {
	var max int64
	for _, inv := range items {
		if inv.ID > max {
			max = inv.ID
		}
	}
	return max + 1
}

func newestFirst(items []core.Invoice) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
