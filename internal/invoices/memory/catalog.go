package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"revdash/internal/core"
	"revdash/internal/invoices"
)

var _ invoices.Catalog = (*Catalog)(nil)

// Catalog is a read-only product catalogue held in memory.
type Catalog struct {
	products []core.Product
	byID     map[int64]core.Product
}

func NewCatalog(products []core.Product) *Catalog {
	c := &Catalog{
		products: append([]core.Product(nil), products...),
		byID:     make(map[int64]core.Product, len(products)),
	}
	for _, p := range products {
		c.byID[p.ID] = p
	}
	return c
}

// NewCatalogFromFiles loads base/seed_products.json. A missing or
// unreadable file yields an empty catalogue.
func NewCatalogFromFiles(base string) *Catalog {
	return NewCatalog(LoadProducts(base))
}

// LoadProducts reads base/seed_products.json, returning nil when the
// file is missing or malformed.
func LoadProducts(base string) []core.Product {
	body, err := os.ReadFile(filepath.Join(base, "seed_products.json"))
	if err != nil {
		return nil
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil
	}
	return products
}

func (c *Catalog) SearchProducts(_ context.Context, query string, limit int) ([]core.Product, error) {
	return invoices.SearchProducts(c.products, query, limit), nil
}

func (c *Catalog) GetProduct(_ context.Context, id int64) (core.Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return core.Product{}, fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	return p, nil
}

func decodeProducts(body []byte) ([]core.Product, error) {
	var raw []invoices.ProductJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode seed products: %w", err)
	}
	out := make([]core.Product, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.Core())
	}
	return out, nil
}
