// Package core provides price parsing and formatting utilities.
//
// Prices arrive from forms, sheets and seed files as strings; this file
// turns them into decimals and back.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParsePrice converts a decimal string into a non-negative decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// keeps every fractional digit; rounding is left to presentation.
//
// Examples:
//
//	ParsePrice("12.34") -> 12.34, nil
//	ParsePrice("12,5")  -> 12.5, nil
//	ParsePrice("-1")    -> 0, ErrInvalidPrice
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidPrice
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidPrice
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidPrice
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidPrice
		}
	}
	if s == "." {
		return decimal.Zero, ErrInvalidPrice
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidPrice
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals, half-up rounded.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
