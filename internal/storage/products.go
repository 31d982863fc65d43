package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"revdash/internal/core"
	"revdash/internal/invoices"
)

var _ invoices.Catalog = (*SQLiteRepository)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchProducts implements invoices.Catalog. SQLite's LIKE is case
// insensitive for ASCII names.
func (r *SQLiteRepository) SearchProducts(ctx context.Context, query string, limit int) ([]core.Product, error) {
	if limit < 1 {
		limit = -1
	}
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, picture_url, stock, price
		   FROM products WHERE name LIKE ? ESCAPE '\'
		  ORDER BY id LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	out := []core.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct implements invoices.Catalog.
func (r *SQLiteRepository) GetProduct(ctx context.Context, id int64) (core.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, picture_url, stock, price FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Product{}, fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	if err != nil {
		return core.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// SaveProduct inserts or replaces a catalogue entry.
func (r *SQLiteRepository) SaveProduct(ctx context.Context, p core.Product) error {
	if p.ID <= 0 || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("save product: id and name are required")
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("save product %d: %w", p.ID, core.ErrInvalidPrice)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, picture_url, stock, price)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   picture_url = excluded.picture_url,
		   stock = excluded.stock,
		   price = excluded.price`,
		p.ID, p.Name, p.PictureURL, p.Stock, p.Price.String())
	if err != nil {
		return fmt.Errorf("save product %d: %w", p.ID, err)
	}
	return nil
}

// SeedProducts stores products when the catalogue is still empty and
// reports how many were written.
func (r *SQLiteRepository) SeedProducts(ctx context.Context, products []core.Product) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for i, p := range products {
		if err := r.SaveProduct(ctx, p); err != nil {
			return i, err
		}
	}
	return len(products), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (core.Product, error) {
	var (
		p     core.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.PictureURL, &p.Stock, &price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Product{}, err
		}
		return core.Product{}, fmt.Errorf("scan product: %w", err)
	}
	var err error
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return core.Product{}, fmt.Errorf("parse price %q of product %d: %w", price, p.ID, err)
	}
	return p, nil
}
