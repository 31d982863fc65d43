// Package http exposes the dashboard as a JSON API.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies, pagination and bucket keys.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"revdash/internal/core"
	"revdash/internal/services"
)

const (
	maxBodyBytes   = 1 << 20
	defaultPerPage = 20
	maxPerPage     = 100
)

// PageParams holds parsed pagination values from request parameters.
type PageParams struct {
	Page    int
	PerPage int
}

// ParsePageParams extracts page and per_page from query parameters.
// Missing or invalid values fall back to the first page of 20 items and
// per_page is capped at 100.
func ParsePageParams(query url.Values) PageParams {
	params := PageParams{Page: 1, PerPage: defaultPerPage}

	if v := strings.TrimSpace(query.Get("page")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			params.Page = p
		}
	}
	if v := strings.TrimSpace(query.Get("per_page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			params.PerPage = min(n, maxPerPage)
		}
	}

	return params
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed request body: %w", err)
	}
	if dec.More() {
		return errors.New("malformed request body: trailing data")
	}
	return nil
}

// parseBucketKey accepts a date ("2024-01-01") or an RFC 3339 timestamp
// and returns it in UTC.
func parseBucketKey(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing bucket key")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid bucket key %q: want YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

type granularityRequest struct {
	Granularity string `json:"granularity"`
}

type selectRequest struct {
	Key string `json:"key"`
}

// createInvoiceRequest is the body of POST /api/invoices. The id is
// assigned by the backend; a missing created_at means now. Lines may
// come as "items" or "details" and may omit unit_price, which is then
// read from the product catalogue.
type createInvoiceRequest struct {
	CreatedAt   *time.Time          `json:"created_at,omitempty"`
	Customer    string              `json:"customer"`
	Salesperson string              `json:"salesperson"`
	PaymentType string              `json:"payment_type"`
	Notes       string              `json:"notes,omitempty"`
	Items       []createItemRequest `json:"items"`
	Details     []createItemRequest `json:"details,omitempty"`
}

type createItemRequest struct {
	ProductID   int64            `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

func (req createInvoiceRequest) lines() []services.LineDraft {
	src := req.Items
	if len(src) == 0 {
		src = req.Details
	}
	out := make([]services.LineDraft, len(src))
	for i, li := range src {
		out[i] = services.LineDraft{
			ProductID:   li.ProductID,
			ProductName: sanitizeInput(li.ProductName),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		}
	}
	return out
}

func (req createInvoiceRequest) invoice(now time.Time, items []core.LineItem) core.Invoice {
	created := now
	if req.CreatedAt != nil {
		created = *req.CreatedAt
	}
	return core.Invoice{
		CreatedAt:   created.UTC(),
		Customer:    sanitizeInput(req.Customer),
		Salesperson: sanitizeInput(req.Salesperson),
		PaymentType: core.PaymentType(strings.ToUpper(sanitizeInput(req.PaymentType))),
		Notes:       sanitizeInput(req.Notes),
		Items:       items,
	}
}

// ParseProductQuery reads the q and limit parameters of a product search.
// A missing or invalid limit is left at zero for the service default.
func ParseProductQuery(query url.Values) (string, int) {
	q := sanitizeInput(query.Get("q"))
	limit := 0
	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return q, limit
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
