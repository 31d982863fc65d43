package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"revdash/internal/core"
	"revdash/internal/invoices"

	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ invoices.RangeSource = (*SQLiteRepository)(nil)
	_ invoices.Writer      = (*SQLiteRepository)(nil)
	_ invoices.Lister      = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping implements the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FetchAll implements invoices.Source
func (r *SQLiteRepository) FetchAll(ctx context.Context) ([]core.Invoice, error) {
	items, err := r.queryInvoices(ctx,
		`SELECT id, customer, salesperson, payment_type, notes, created_at
		   FROM invoices ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("fetch all invoices: %w", err)
	}
	return items, nil
}

// FetchByRange implements invoices.RangeSource
func (r *SQLiteRepository) FetchByRange(ctx context.Context, start, end time.Time) ([]core.Invoice, error) {
	items, err := r.queryInvoices(ctx,
		`SELECT id, customer, salesperson, payment_type, notes, created_at
		   FROM invoices WHERE created_at >= ? AND created_at < ?
		  ORDER BY created_at, id`,
		storedTime(start), storedTime(end))
	if err != nil {
		return nil, fmt.Errorf("fetch invoices by range: %w", err)
	}
	return items, nil
}

// List implements invoices.Lister
func (r *SQLiteRepository) List(ctx context.Context, page, perPage int) ([]core.Invoice, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	if page < 1 || perPage < 1 {
		return nil, total, nil
	}
	items, err := r.queryInvoices(ctx,
		`SELECT id, customer, salesperson, payment_type, notes, created_at
		   FROM invoices ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return items, total, nil
}

// Create implements invoices.Writer
func (r *SQLiteRepository) Create(ctx context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	id, err := r.save(ctx, inv)
	if err != nil {
		return "", fmt.Errorf("create invoice: %w", err)
	}

	slog.InfoContext(ctx, "Invoice saved to SQLite",
		"id", id,
		"customer", inv.Customer,
		"items", len(inv.Items),
		"revenue", core.FormatAmount(inv.Revenue()))

	return strconv.FormatInt(id, 10), nil
}

// Upsert stores inv under its own id, replacing any earlier copy. The
// ingest worker relies on it to make redelivered messages harmless.
func (r *SQLiteRepository) Upsert(ctx context.Context, inv core.Invoice) error {
	if inv.ID <= 0 {
		return fmt.Errorf("upsert invoice: missing id")
	}
	if err := inv.Validate(); err != nil {
		return fmt.Errorf("upsert invoice %d: %w", inv.ID, err)
	}
	if _, err := r.save(ctx, inv); err != nil {
		return fmt.Errorf("upsert invoice %d: %w", inv.ID, err)
	}
	return nil
}

// GetInvoice returns one invoice by id.
func (r *SQLiteRepository) GetInvoice(ctx context.Context, id int64) (core.Invoice, error) {
	items, err := r.queryInvoices(ctx,
		`SELECT id, customer, salesperson, payment_type, notes, created_at
		   FROM invoices WHERE id = ?`, id)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice by id: %w", err)
	}
	if len(items) == 0 {
		return core.Invoice{}, fmt.Errorf("get invoice by id %d: %w", id, sql.ErrNoRows)
	}
	return items[0], nil
}

func (r *SQLiteRepository) save(ctx context.Context, inv core.Invoice) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if inv.ID > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO invoices (id, customer, salesperson, payment_type, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   customer = excluded.customer,
			   salesperson = excluded.salesperson,
			   payment_type = excluded.payment_type,
			   notes = excluded.notes,
			   created_at = excluded.created_at`,
			inv.ID, inv.Customer, inv.Salesperson, string(inv.PaymentType), inv.Notes, storedTime(inv.CreatedAt))
		id = inv.ID
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`INSERT INTO invoices (customer, salesperson, payment_type, notes, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			inv.Customer, inv.Salesperson, string(inv.PaymentType), inv.Notes, storedTime(inv.CreatedAt))
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("insert invoice: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, id); err != nil {
		return 0, fmt.Errorf("clear invoice items: %w", err)
	}
	for pos, li := range inv.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invoice_items (invoice_id, position, product_id, product_name, quantity, unit_price)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, pos, li.ProductID, li.ProductName, li.Quantity, li.UnitPrice.String()); err != nil {
			return 0, fmt.Errorf("insert invoice item %d: %w", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// maxItemFilterIDs bounds the IN list of an items query; larger result
// sets (FetchAll) read every item row instead.
const maxItemFilterIDs = 500

// storedTime converts t to the Unix nanoseconds kept in created_at,
// clamped to the range invoices are validated against.
func storedTime(t time.Time) int64 {
	switch {
	case t.Before(core.MinCreatedAt):
		return core.MinCreatedAt.UnixNano()
	case t.After(core.MaxCreatedAt):
		return core.MaxCreatedAt.UnixNano()
	}
	return t.UnixNano()
}

// queryInvoices runs an invoice query and attaches the line items of the
// returned rows, preserving the query order.
func (r *SQLiteRepository) queryInvoices(ctx context.Context, query string, args ...any) ([]core.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Invoice
	index := map[int64]int{}
	for rows.Next() {
		var (
			inv       core.Invoice
			payment   string
			createdAt int64
		)
		if err := rows.Scan(&inv.ID, &inv.Customer, &inv.Salesperson, &payment, &inv.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.PaymentType = core.PaymentType(payment)
		inv.CreatedAt = time.Unix(0, createdAt).UTC()
		index[inv.ID] = len(out)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemQuery := `SELECT invoice_id, product_id, product_name, quantity, unit_price
	                FROM invoice_items`
	var itemArgs []any
	if len(out) <= maxItemFilterIDs {
		placeholders := make([]string, len(out))
		itemArgs = make([]any, len(out))
		for i, inv := range out {
			placeholders[i] = "?"
			itemArgs[i] = inv.ID
		}
		itemQuery += ` WHERE invoice_id IN (` + strings.Join(placeholders, ",") + `)`
	}
	itemQuery += ` ORDER BY invoice_id, position`

	itemRows, err := r.db.QueryContext(ctx, itemQuery, itemArgs...)
	if err != nil {
		return nil, fmt.Errorf("query invoice items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			invoiceID int64
			li        core.LineItem
			price     string
		)
		if err := itemRows.Scan(&invoiceID, &li.ProductID, &li.ProductName, &li.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		i, ok := index[invoiceID]
		if !ok {
			continue
		}
		li.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse unit price %q of invoice %d: %w", price, invoiceID, err)
		}
		out[i].Items = append(out[i].Items, li)
	}
	return out, itemRows.Err()
}
