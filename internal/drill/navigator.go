// Package drill tracks whether the dashboard shows the aggregate revenue
// series or the invoices of one selected bucket.
package drill

import (
	"errors"
	"fmt"
	"time"

	"revdash/internal/core"
)

const (
	Aggregate Mode = "aggregate"
	Detail    Mode = "detail"
)

type Mode string

var ErrInvalidTransition = errors.New("invalid transition")

// ZoomState is a comparable snapshot of the navigator state.
type ZoomState struct {
	Mode        Mode
	SelectedKey time.Time // zero unless Mode is Detail
}

// Navigator is the drill-down state machine. It holds the full-range
// series (original) and the presented one (current); the two diverge
// only while a bucket is selected. A failed transition leaves every
// field untouched.
//
// A Navigator is not safe for concurrent use.
type Navigator struct {
	records     []core.Invoice
	granularity core.Granularity
	original    *core.Series
	current     *core.Series
	mode        Mode
	selected    time.Time
	detail      []core.Invoice
}

// New aggregates records at g and starts in Aggregate mode. The
// navigator keeps its own copy of records.
func New(records []core.Invoice, g core.Granularity) (*Navigator, error) {
	records = append([]core.Invoice(nil), records...)
	series, err := core.Aggregate(records, g)
	if err != nil {
		return nil, err
	}
	return &Navigator{
		records:     records,
		granularity: g,
		original:    series,
		current:     series,
		mode:        Aggregate,
	}, nil
}

// Select zooms into the bucket starting at key. Selecting a bucket with
// no invoices is a no-op.
func (n *Navigator) Select(key time.Time) error {
	if n.mode != Aggregate {
		return fmt.Errorf("select %s while in %s: %w", key.Format(time.DateOnly), n.mode, ErrInvalidTransition)
	}
	b, ok := n.current.Bucket(key)
	if !ok {
		return fmt.Errorf("select %s: no such bucket: %w", key.Format(time.DateOnly), ErrInvalidTransition)
	}
	if b.IsEmpty() {
		return nil
	}
	slice, _ := n.current.Slice(b.Start)

	n.mode = Detail
	n.selected = b.Start
	n.detail = b.Invoices
	n.current = slice
	return nil
}

// Back returns from Detail to the untouched aggregate series.
func (n *Navigator) Back() error {
	if n.mode != Detail {
		return fmt.Errorf("back while in %s: %w", n.mode, ErrInvalidTransition)
	}
	n.reset()
	return nil
}

// ChangeGranularity re-buckets the records and discards any drill-down.
func (n *Navigator) ChangeGranularity(g core.Granularity) error {
	series, err := core.Aggregate(n.records, g)
	if err != nil {
		return err
	}
	n.granularity = g
	n.original = series
	n.reset()
	return nil
}

// Reload swaps in a freshly fetched record set at the current granularity.
func (n *Navigator) Reload(records []core.Invoice) error {
	records = append([]core.Invoice(nil), records...)
	series, err := core.Aggregate(records, n.granularity)
	if err != nil {
		return err
	}
	n.records = records
	n.original = series
	n.reset()
	return nil
}

func (n *Navigator) reset() {
	n.mode = Aggregate
	n.selected = time.Time{}
	n.detail = nil
	n.current = n.original
}

func (n *Navigator) State() ZoomState {
	return ZoomState{Mode: n.mode, SelectedKey: n.selected}
}

func (n *Navigator) Mode() Mode {
	return n.mode
}

// SelectedKey returns the selected bucket start while in Detail.
func (n *Navigator) SelectedKey() (time.Time, bool) {
	return n.selected, n.mode == Detail
}

func (n *Navigator) Granularity() core.Granularity {
	return n.granularity
}

func (n *Navigator) Original() *core.Series {
	return n.original
}

func (n *Navigator) Current() *core.Series {
	return n.current
}

// Detail returns the selected bucket's invoices; nil in Aggregate.
func (n *Navigator) Detail() []core.Invoice {
	if n.mode != Detail {
		return nil
	}
	return append([]core.Invoice(nil), n.detail...)
}

// IsZoomed reports whether the presented series differs from the
// full-range one.
func (n *Navigator) IsZoomed() bool {
	return n.current != n.original
}

// Records returns the record set the series were built from.
func (n *Navigator) Records() []core.Invoice {
	return append([]core.Invoice(nil), n.records...)
}
