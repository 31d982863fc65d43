// This file implements the calendar strategies behind each Granularity.
// Each strategy owns the two calendar operations the aggregator needs:
// mapping a timestamp to its bucket start and stepping to the next one.

package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Granularity is the time resolution used for bucketing.
type Granularity string

var ErrInvalidGranularity = errors.New("invalid granularity")

// BucketStrategy computes bucket boundaries for one granularity.
// Keys are always computed in UTC.
type BucketStrategy interface {
	// BucketKeyOf returns the canonical start of the bucket containing t.
	BucketKeyOf(t time.Time) time.Time
	// NextKey returns the bucket start following key.
	NextKey(key time.Time) time.Time
}

// DayStrategy buckets by calendar day.
type DayStrategy struct{}

func (DayStrategy) BucketKeyOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (DayStrategy) NextKey(key time.Time) time.Time {
	return key.AddDate(0, 0, 1)
}

// WeekStrategy buckets by ISO calendar week; weeks start on Monday.
type WeekStrategy struct{}

func (WeekStrategy) BucketKeyOf(t time.Time) time.Time {
	day := DayStrategy{}.BucketKeyOf(t)
	// Sunday is 0 in time.Weekday; shift so Monday is 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func (WeekStrategy) NextKey(key time.Time) time.Time {
	return key.AddDate(0, 0, 7)
}

// MonthStrategy buckets by calendar month.
type MonthStrategy struct{}

func (MonthStrategy) BucketKeyOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextKey is only ever called with a first-of-month key, so AddDate
// never overflows into the month after next.
func (MonthStrategy) NextKey(key time.Time) time.Time {
	return key.AddDate(0, 1, 0)
}

// bucketStrategies maps granularities to their calendar strategy.
var bucketStrategies = map[Granularity]BucketStrategy{
	Daily:   DayStrategy{},
	Weekly:  WeekStrategy{},
	Monthly: MonthStrategy{},
}

// finer maps a granularity to the one used for detail sub-series.
var finer = map[Granularity]Granularity{
	Weekly:  Daily,
	Monthly: Daily,
}

// Granularities returns the supported granularities from finest to coarsest.
func Granularities() []Granularity {
	return []Granularity{Daily, Weekly, Monthly}
}

// ParseGranularity accepts "daily", "weekly" or "monthly" in any case.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
	}
	return g, nil
}

// Strategy returns the calendar strategy for g.
func (g Granularity) Strategy() (BucketStrategy, error) {
	s, ok := bucketStrategies[g]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, string(g))
	}
	return s, nil
}

func (g Granularity) IsValid() bool {
	_, ok := bucketStrategies[g]
	return ok
}

func (g Granularity) String() string {
	return string(g)
}

// Finer returns the granularity used to re-bucket one bucket of g.
// Daily has no finer granularity.
func (g Granularity) Finer() (Granularity, bool) {
	f, ok := finer[g]
	return f, ok
}

// BucketEnd returns the exclusive end of the bucket starting at key.
func (g Granularity) BucketEnd(key time.Time) (time.Time, error) {
	s, err := g.Strategy()
	if err != nil {
		return time.Time{}, err
	}
	return s.NextKey(key), nil
}
