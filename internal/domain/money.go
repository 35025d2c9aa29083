package domain

import (
	"github.com/shopspring/decimal"
)

// MaxAmountCents caps a single money movement at one trillion dollars. Larger
// values are rejected before conversion so they can never wrap an int64.
const MaxAmountCents int64 = 100_000_000_000_000

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(MaxAmountCents)
)

// ToCents converts a dollar amount to integer cents. Amounts with more than two
// fractional digits are rejected rather than rounded.
func ToCents(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, Validation("amount %s has more than two decimal places", amount.String())
	}
	if !cents.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if cents.GreaterThan(maxAmount) {
		return 0, Validation("amount %s exceeds the maximum of %s", amount.String(), FromCents(MaxAmountCents).StringFixed(2))
	}
	return cents.IntPart(), nil
}

// ParseCents parses a textual dollar amount ("50", "12.75") into cents.
func ParseCents(raw string) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, Validation("invalid amount %q", raw)
	}
	return ToCents(amount)
}

// FromCents converts integer cents back to a dollar amount for responses.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
