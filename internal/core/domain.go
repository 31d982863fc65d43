package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentCash          PaymentType = "CASH"
	PaymentCredit        PaymentType = "CREDIT"
	PaymentNotCashCredit PaymentType = "NOTCASHORCREDIT"
)

type (
	PaymentType string

	// LineItem is one product row of an invoice.
	LineItem struct {
		ProductID   int64
		ProductName string
		Quantity    int64
		UnitPrice   decimal.Decimal
	}

	// Invoice is a read-only record produced by a data source.
	Invoice struct {
		ID          int64
		CreatedAt   time.Time
		Customer    string
		Salesperson string
		PaymentType PaymentType
		Notes       string
		Items       []LineItem
	}
)

var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrEmptyCustomer      = errors.New("empty customer")
	ErrEmptySalesperson   = errors.New("empty salesperson")
	ErrInvalidPaymentType = errors.New("invalid payment type")
	ErrNoItems            = errors.New("invoice has no line items")
	ErrMissingCreatedAt   = errors.New("created_at cannot be zero")
	ErrCustomerTooLong    = errors.New("customer too long (max 200 characters)")
	ErrCreatedAtRange     = errors.New("created_at outside supported range (1900-2199)")
	ErrUnknownProduct     = errors.New("unknown product")
)

// Storage keeps timestamps as Unix nanoseconds, which only cover
// 1678-2262; invoices must fall inside [MinCreatedAt, MaxCreatedAt).
var (
	MinCreatedAt = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxCreatedAt = time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)
)

var validationErrors = []error{
	ErrInvalidQuantity,
	ErrInvalidPrice,
	ErrEmptyCustomer,
	ErrEmptySalesperson,
	ErrInvalidPaymentType,
	ErrNoItems,
	ErrMissingCreatedAt,
	ErrCustomerTooLong,
	ErrCreatedAtRange,
	ErrUnknownProduct,
}

// IsValidationError reports whether err stems from Invoice.Validate.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Amount returns quantity × unit price.
func (li LineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Revenue returns the sum of the line item amounts. An invoice without
// items contributes zero.
func (inv Invoice) Revenue() decimal.Decimal {
	total := decimal.Zero
	for _, li := range inv.Items {
		total = total.Add(li.Amount())
	}
	return total
}

func (p PaymentType) IsValid() bool {
	switch p {
	case PaymentCash, PaymentCredit, PaymentNotCashCredit:
		return true
	default:
		return false
	}
}

func (li LineItem) Validate() error {
	if li.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if li.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Validate checks an invoice before it is written by a data source.
// Aggregation never calls it: partially filled records still chart.
func (inv Invoice) Validate() error {
	if inv.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}
	if inv.CreatedAt.Before(MinCreatedAt) || !inv.CreatedAt.Before(MaxCreatedAt) {
		return ErrCreatedAtRange
	}
	if strings.TrimSpace(inv.Customer) == "" {
		return ErrEmptyCustomer
	}
	if len(inv.Customer) > 200 {
		return ErrCustomerTooLong
	}
	if strings.TrimSpace(inv.Salesperson) == "" {
		return ErrEmptySalesperson
	}
	if !inv.PaymentType.IsValid() {
		return ErrInvalidPaymentType
	}
	if len(inv.Items) == 0 {
		return ErrNoItems
	}
	for _, li := range inv.Items {
		if err := li.Validate(); err != nil {
			return err
		}
	}
	return nil
}
