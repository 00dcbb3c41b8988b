// Package core provides money parsing and handling utilities.
//
// Amounts are signed decimals: positive values are inflows, negative values
// are outflows. Floating point never touches a stored amount.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)

// ParseAmount converts a user-entered string into a decimal rounded to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an optional
// leading sign, and performs half-up rounding on the third decimal place.
//
// Examples:
//
//	ParseAmount("12.34")   -> 12.34
//	ParseAmount("-1500")   -> -1500
//	ParseAmount("12,345")  -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d.Round(2), nil
}

// FormatAmount renders an amount with two fixed decimals and a leading sign
// for negatives, e.g. "-1500.00".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// SumAmounts adds the amounts of the given entries.
func SumAmounts(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
