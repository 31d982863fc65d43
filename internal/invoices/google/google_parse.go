package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"revdash/internal/core"
)

// Column layout of the invoices sheet.
const (
	colID = iota
	colCreatedAt
	colCustomer
	colSalesperson
	colPaymentType
	colNotes
	colProductID
	colProductName
	colQuantity
	colUnitPrice
	numCols
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// parseRows converts a values matrix into invoices. Consecutive rows
// sharing an id form one invoice; a header row is skipped. Rows that
// cannot be parsed are dropped and reported through skipped.
func parseRows(values [][]interface{}) (out []core.Invoice, skipped []error) {
	for i, raw := range values {
		cols := toStrings(raw)
		if len(cols) == 0 || strings.TrimSpace(strings.Join(cols, "")) == "" {
			continue
		}
		if i == 0 && isHeader(cols) {
			continue
		}

		inv, item, err := parseRow(cols)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("row %d: %w", i+1, err))
			continue
		}

		if n := len(out); n > 0 && out[n-1].ID == inv.ID {
			out[n-1].Items = append(out[n-1].Items, item)
			continue
		}
		inv.Items = []core.LineItem{item}
		out = append(out, inv)
	}
	return out, skipped
}

func parseRow(cols []string) (core.Invoice, core.LineItem, error) {
	if len(cols) < numCols {
		return core.Invoice{}, core.LineItem{}, fmt.Errorf("expected %d columns, got %d", numCols, len(cols))
	}

	id, err := strconv.ParseInt(cols[colID], 10, 64)
	if err != nil || id <= 0 {
		return core.Invoice{}, core.LineItem{}, fmt.Errorf("invalid id %q", cols[colID])
	}
	created, err := parseTimestamp(cols[colCreatedAt])
	if err != nil {
		return core.Invoice{}, core.LineItem{}, err
	}
	productID, err := parseInt(cols[colProductID])
	if err != nil {
		return core.Invoice{}, core.LineItem{}, fmt.Errorf("invalid product id %q", cols[colProductID])
	}
	qty, err := parseInt(cols[colQuantity])
	if err != nil || qty < 0 {
		return core.Invoice{}, core.LineItem{}, fmt.Errorf("invalid quantity %q", cols[colQuantity])
	}
	price, err := core.ParsePrice(cols[colUnitPrice])
	if err != nil {
		return core.Invoice{}, core.LineItem{}, fmt.Errorf("invalid unit price %q: %w", cols[colUnitPrice], err)
	}

	inv := core.Invoice{
		ID:          id,
		CreatedAt:   created,
		Customer:    cols[colCustomer],
		Salesperson: cols[colSalesperson],
		PaymentType: core.PaymentType(strings.ToUpper(cols[colPaymentType])),
		Notes:       cols[colNotes],
	}
	item := core.LineItem{
		ProductID:   productID,
		ProductName: cols[colProductName],
		Quantity:    qty,
		UnitPrice:   price,
	}
	return inv, item, nil
}

// parseInt accepts plain integers and integral floats such as "3.0".
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}

// formatRows is the inverse of parseRows for a single invoice.
func formatRows(inv core.Invoice) [][]any {
	rows := make([][]any, 0, len(inv.Items))
	for _, li := range inv.Items {
		rows = append(rows, []any{
			inv.ID,
			inv.CreatedAt.UTC().Format(time.RFC3339),
			inv.Customer,
			inv.Salesperson,
			string(inv.PaymentType),
			inv.Notes,
			li.ProductID,
			li.ProductName,
			li.Quantity,
			li.UnitPrice.String(),
		})
	}
	return rows
}

func isHeader(cols []string) bool {
	_, err := strconv.ParseInt(cols[0], 10, 64)
	return err != nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
