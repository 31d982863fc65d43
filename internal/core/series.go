package core

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket is one time-aligned aggregation unit.
type Bucket struct {
	Start    time.Time
	Revenue  decimal.Decimal
	Invoices []Invoice
}

// IsEmpty reports whether no invoice fell into the bucket.
func (b Bucket) IsEmpty() bool {
	return len(b.Invoices) == 0
}

func (b Bucket) clone() Bucket {
	b.Invoices = slices.Clone(b.Invoices)
	return b
}

// Series is an ordered, gap-free run of buckets. A Series is never
// modified after Aggregate returns it, so it can be shared by reference.
type Series struct {
	granularity Granularity
	buckets     []Bucket
}

func (s *Series) Granularity() Granularity {
	return s.granularity
}

func (s *Series) Len() int {
	return len(s.buckets)
}

// Buckets returns a copy of the buckets in chronological order.
func (s *Series) Buckets() []Bucket {
	out := make([]Bucket, len(s.buckets))
	for i, b := range s.buckets {
		out[i] = b.clone()
	}
	return out
}

// Bucket looks up the bucket starting at key.
func (s *Series) Bucket(key time.Time) (Bucket, bool) {
	i, ok := s.index(key)
	if !ok {
		return Bucket{}, false
	}
	return s.buckets[i].clone(), true
}

func (s *Series) index(key time.Time) (int, bool) {
	return slices.BinarySearchFunc(s.buckets, key, func(b Bucket, k time.Time) int {
		return b.Start.Compare(k)
	})
}

// Keys returns the bucket starts in order.
func (s *Series) Keys() []time.Time {
	keys := make([]time.Time, len(s.buckets))
	for i, b := range s.buckets {
		keys[i] = b.Start
	}
	return keys
}

// Total sums revenue over every bucket.
func (s *Series) Total() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.buckets {
		total = total.Add(b.Revenue)
	}
	return total
}

// Start returns the first bucket start; false for an empty series.
func (s *Series) Start() (time.Time, bool) {
	if len(s.buckets) == 0 {
		return time.Time{}, false
	}
	return s.buckets[0].Start, true
}

// End returns the last bucket start; false for an empty series.
func (s *Series) End() (time.Time, bool) {
	if len(s.buckets) == 0 {
		return time.Time{}, false
	}
	return s.buckets[len(s.buckets)-1].Start, true
}

// Slice returns a new series holding only the bucket at key.
func (s *Series) Slice(key time.Time) (*Series, bool) {
	i, ok := s.index(key)
	if !ok {
		return nil, false
	}
	return &Series{granularity: s.granularity, buckets: []Bucket{s.buckets[i]}}, true
}
