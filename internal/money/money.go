// Package money handles monetary amounts for the marketplace.
//
// Amounts travel as strings on the wire and NUMERIC(20,2) in Postgres;
// all arithmetic goes through shopspring/decimal so platform fees never
// pick up float drift.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	AUD Currency = "AUD"
)

// DefaultCurrency is used when a request omits the currency.
const DefaultCurrency = USD

// SupportedCurrency reports whether the code is one the marketplace trades in.
func SupportedCurrency(c Currency) bool {
	switch c {
	case USD, EUR, GBP, AUD:
		return true
	}
	return false
}

// ParseCurrency normalizes and validates a currency code. Empty input
// resolves to the default.
func ParseCurrency(s string) (Currency, error) {
	if s == "" {
		return DefaultCurrency, nil
	}
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !SupportedCurrency(c) {
		return "", fmt.Errorf("unsupported currency %q: %w", s, apperrors.ErrValidation)
	}
	return c, nil
}

// Parse converts a decimal string like "2500.00" into a decimal.
// Amounts must be positive.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, apperrors.ErrValidation)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be greater than zero: %w", apperrors.ErrValidation)
	}
	return d, nil
}

// Format renders a decimal with two fractional digits, the canonical
// wire representation.
func Format(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// Fee computes the platform commission on an amount at the given
// percentage rate, rounded to cents (banker's rounding avoided on
// purpose: Round half away from zero matches the invoice totals).
func Fee(amount decimal.Decimal, ratePct decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePct).Div(decimal.NewFromInt(100)).Round(2)
}

// Split divides an order's final price into (platformFee, sellerAmount)
// at the given commission rate. sellerAmount + platformFee always equals
// the input exactly.
func Split(finalPrice decimal.Decimal, ratePct decimal.Decimal) (fee, sellerAmount decimal.Decimal) {
	fee = Fee(finalPrice, ratePct)
	sellerAmount = finalPrice.Sub(fee)
	return fee, sellerAmount
}

// Equal reports whether two wire-format amounts are numerically equal.
func Equal(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}
