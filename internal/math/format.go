package math

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a base-10 integer string in the smallest denomination
// (wei). This is the wire and storage format of every Amount.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return *v, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseDecimal converts a human-readable decimal ("1.1", "2000") into its
// 1e18 fixed-point representation. Extra fractional digits are truncated.
func ParseDecimal(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal value into 1e18 fixed point.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("negative amount %s", d.String())
	}
	scaled := d.Shift(DecimalPlaces).Truncate(0)
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Amount{}, fmt.Errorf("amount %s overflows 256 bits", d.String())
	}
	return *v, nil
}

// ToDecimal converts a 1e18 fixed-point value into a decimal for display.
func ToDecimal(a Amount) decimal.Decimal {
	return decimal.NewFromBigInt(a.ToBig(), -DecimalPlaces)
}

// Format renders an Amount in whole units, e.g. "6666.666666666666666666".
func Format(a Amount) string {
	return ToDecimal(a).String()
}
