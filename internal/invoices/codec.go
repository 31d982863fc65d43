package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"revdash/internal/core"
)

// InvoiceJSON is the wire shape shared by seed files, AMQP messages and
// the HTTP API. Prices travel as decimal strings.
type InvoiceJSON struct {
	ID          int64          `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Customer    string         `json:"customer"`
	Salesperson string         `json:"salesperson"`
	PaymentType string         `json:"payment_type"`
	Notes       string         `json:"notes,omitempty"`
	Items       []LineItemJSON `json:"items"`
	Revenue     string         `json:"revenue,omitempty"`
}

type LineItemJSON struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// FromCore converts an invoice to its wire shape, including the computed
// revenue for display.
func FromCore(inv core.Invoice) InvoiceJSON {
	out := InvoiceJSON{
		ID:          inv.ID,
		CreatedAt:   inv.CreatedAt,
		Customer:    inv.Customer,
		Salesperson: inv.Salesperson,
		PaymentType: string(inv.PaymentType),
		Notes:       inv.Notes,
		Items:       make([]LineItemJSON, len(inv.Items)),
		Revenue:     core.FormatAmount(inv.Revenue()),
	}
	for i, li := range inv.Items {
		out.Items[i] = LineItemJSON{
			ProductID:   li.ProductID,
			ProductName: li.ProductName,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		}
	}
	return out
}

// FromCoreSlice converts a list of invoices; nil stays an empty list.
func FromCoreSlice(items []core.Invoice) []InvoiceJSON {
	out := make([]InvoiceJSON, len(items))
	for i, inv := range items {
		out[i] = FromCore(inv)
	}
	return out
}

// Core converts the wire shape back to a domain invoice. Revenue is
// ignored; it is always recomputed from the items.
func (j InvoiceJSON) Core() core.Invoice {
	inv := core.Invoice{
		ID:          j.ID,
		CreatedAt:   j.CreatedAt,
		Customer:    j.Customer,
		Salesperson: j.Salesperson,
		PaymentType: core.PaymentType(j.PaymentType),
		Notes:       j.Notes,
	}
	if len(j.Items) > 0 {
		inv.Items = make([]core.LineItem, len(j.Items))
		for i, li := range j.Items {
			inv.Items[i] = core.LineItem{
				ProductID:   li.ProductID,
				ProductName: li.ProductName,
				Quantity:    li.Quantity,
				UnitPrice:   li.UnitPrice,
			}
		}
	}
	return inv
}

// ProductJSON is the wire shape of a catalogue entry.
type ProductJSON struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	PictureURL string          `json:"picture_url,omitempty"`
	Stock      int64           `json:"stock"`
	Price      decimal.Decimal `json:"price"`
}

func FromProduct(p core.Product) ProductJSON {
	return ProductJSON{ID: p.ID, Name: p.Name, PictureURL: p.PictureURL, Stock: p.Stock, Price: p.Price}
}

// FromProducts converts a list of products; nil stays an empty list.
func FromProducts(items []core.Product) []ProductJSON {
	out := make([]ProductJSON, len(items))
	for i, p := range items {
		out[i] = FromProduct(p)
	}
	return out
}

func (j ProductJSON) Core() core.Product {
	return core.Product{ID: j.ID, Name: j.Name, PictureURL: j.PictureURL, Stock: j.Stock, Price: j.Price}
}
