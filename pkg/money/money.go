// Package money formats ledger minor units for display.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Exponent is the number of minor-unit digits of the ledger currency.
const Exponent int32 = 2

// ToMajor converts minor units to a decimal in major units.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Exponent)
}

// Format renders minor units as a fixed-point major-unit string.
func Format(minor int64) string {
	return ToMajor(minor).StringFixed(Exponent)
}

// FormatWithCurrency prefixes the formatted amount with an ISO code.
func FormatWithCurrency(currency string, minor int64) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Format(minor)
	}
	return currency + " " + Format(minor)
}

// ParseMajor converts a major-unit string to minor units. Digits past the
// currency exponent are rejected rather than rounded.
func ParseMajor(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(Exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	return scaled.IntPart(), nil
}
