// Package money converts between dollar amounts and integer cents and splits
// platform fees. Every comparison that decides whether money can move is done
// in cents.
package money

import (
	"fmt"
	"math"
)

// DefaultFeePercent is the platform fee charged on release
const DefaultFeePercent = 15.0

// ToCents converts a dollar amount to integer cents, rounding half away from zero
func ToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// FromCents converts integer cents back to dollars
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}

// Split is the result of applying the platform fee to an escrowed amount
type Split struct {
	GrossCents int64 `json:"gross_cents"`
	FeeCents   int64 `json:"fee_cents"`
	NetCents   int64 `json:"net_cents"`
}

// SplitFee computes platform_fee = round(gross * pct / 100) and net = gross - fee.
// Net is derived by subtraction so fee + net always equals gross exactly.
func SplitFee(grossCents int64, feePercent float64) (Split, error) {
	if grossCents < 0 {
		return Split{}, fmt.Errorf("gross amount must not be negative: %d", grossCents)
	}
	if feePercent < 0 || feePercent > 100 {
		return Split{}, fmt.Errorf("fee percent out of range: %.2f", feePercent)
	}
	fee := int64(math.Round(float64(grossCents) * feePercent / 100))
	return Split{
		GrossCents: grossCents,
		FeeCents:   fee,
		NetCents:   grossCents - fee,
	}, nil
}

// Format renders cents as a dollar string, e.g. 8500 -> "85.00"
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
