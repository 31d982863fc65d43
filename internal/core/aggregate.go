package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type accumulator struct {
	revenue  decimal.Decimal
	invoices []Invoice
}

// Aggregate buckets records at granularity g and fills every gap between
// the first and last observed bucket with an empty, zero-revenue bucket.
//
// Invoices keep their input order inside a bucket. An empty input yields
// an empty series. The only error is ErrInvalidGranularity.
func Aggregate(records []Invoice, g Granularity) (*Series, error) {
	strategy, err := g.Strategy()
	if err != nil {
		return nil, err
	}

	series := &Series{granularity: g}
	if len(records) == 0 {
		return series, nil
	}

	acc := make(map[int64]*accumulator, len(records))
	var minKey, maxKey time.Time
	for i, inv := range records {
		key := strategy.BucketKeyOf(inv.CreatedAt)
		a, ok := acc[key.Unix()]
		if !ok {
			a = &accumulator{revenue: decimal.Zero}
			acc[key.Unix()] = a
		}
		a.revenue = a.revenue.Add(inv.Revenue())
		a.invoices = append(a.invoices, inv)

		if i == 0 || key.Before(minKey) {
			minKey = key
		}
		if i == 0 || key.After(maxKey) {
			maxKey = key
		}
	}

	for key := minKey; !key.After(maxKey); key = strategy.NextKey(key) {
		b := Bucket{Start: key, Revenue: decimal.Zero}
		if a, ok := acc[key.Unix()]; ok {
			b.Revenue = a.revenue
			b.Invoices = a.invoices
		}
		series.buckets = append(series.buckets, b)
	}

	return series, nil
}

// MustAggregate is Aggregate for granularities known to be valid.
func MustAggregate(records []Invoice, g Granularity) *Series {
	s, err := Aggregate(records, g)
	if err != nil {
		panic(err)
	}
	return s
}
