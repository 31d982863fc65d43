package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is a catalogue entry invoice lines refer to by id. Its price
// fills in line items submitted without one.
type Product struct {
	ID         int64
	Name       string
	PictureURL string
	Stock      int64
	Price      decimal.Decimal
}

// Matches reports whether the product name contains query, ignoring
// case. An empty query matches everything.
func (p Product) Matches(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), strings.ToLower(query))
}
