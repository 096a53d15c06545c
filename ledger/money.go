package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts a client-supplied amount into integer currency units.
// Zero, negative, fractional and out-of-range values yield ErrInvalidAmount.
func ParseAmount(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() || !d.IsInteger() || d.GreaterThan(maxAmount) {
		return 0, ErrInvalidAmount
	}
	return d.IntPart(), nil
}

// ParseAmountString is ParseAmount for textual input. Non-numeric strings
// yield ErrInvalidAmount.
func ParseAmountString(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return ParseAmount(d)
}

// ParseOpeningBalance converts a signed opening balance. Zero is allowed;
// otherwise the magnitude follows ParseAmount.
func ParseOpeningBalance(d decimal.Decimal) (int64, error) {
	if d.IsZero() {
		return 0, nil
	}
	units, err := ParseAmount(d.Abs())
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return -units, nil
	}
	return units, nil
}

// Money renders integer currency units as a decimal for reporting.
func Money(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}
