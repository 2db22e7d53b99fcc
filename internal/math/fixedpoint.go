package math

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is an unsigned fixed-point quantity scaled by 1e18. Collateral,
// debt, stakes, prices and every accumulator share this representation.
type Amount = uint256.Int

// RoundingMode selects how a division remainder is handled.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

const (
	// DecimalPlaces is the number of fractional digits of an Amount.
	DecimalPlaces = 18

	// BasisPoints is the denominator for fee rates expressed in bps.
	BasisPoints = 10_000
)

var (
	// DecimalPrecision is 1e18, the unit of every fixed-point value.
	DecimalPrecision = NewAmount(1_000_000_000_000_000_000)

	// ScaleFactor is the 1e9 renormalisation step of the compounding product.
	ScaleFactor = NewAmount(1_000_000_000)

	// NICRPrecision scales nominal collateral ratios (1e20).
	NICRPrecision = Mul(DecimalPrecision, NewAmount(100))

	// MaxAmount is returned as the ratio of a position without debt.
	MaxAmount = *new(uint256.Int).SetAllOne()
)

// NewAmount converts a raw integer (already in the smallest denomination).
func NewAmount(v uint64) Amount {
	return *uint256.NewInt(v)
}

// Units returns n whole units, i.e. n * 1e18.
func Units(n uint64) Amount {
	return Mul(NewAmount(n), DecimalPrecision)
}

// Add returns a + b. Overflow is a broken invariant, not an input error.
func Add(a, b Amount) Amount {
	var z uint256.Int
	if _, overflow := z.AddOverflow(&a, &b); overflow {
		panic(fmt.Sprintf("FATAL: amount overflow: %s + %s", a.Dec(), b.Dec()))
	}
	return z
}

// Sub returns a - b. Callers validate balances first; underflow panics.
func Sub(a, b Amount) Amount {
	var z uint256.Int
	if _, underflow := z.SubOverflow(&a, &b); underflow {
		panic(fmt.Sprintf("FATAL: amount underflow: %s - %s", a.Dec(), b.Dec()))
	}
	return z
}

// SubOrZero returns a - b, or zero when b > a.
func SubOrZero(a, b Amount) Amount {
	if b.Gt(&a) {
		return Amount{}
	}
	var z uint256.Int
	z.Sub(&a, &b)
	return z
}

func Mul(a, b Amount) Amount {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&a, &b); overflow {
		panic(fmt.Sprintf("FATAL: amount overflow: %s * %s", a.Dec(), b.Dec()))
	}
	return z
}

// Div returns floor(a / b). Division by zero panics.
func Div(a, b Amount) Amount {
	if b.IsZero() {
		panic(fmt.Sprintf("FATAL: division by zero (numerator %s)", a.Dec()))
	}
	var z uint256.Int
	z.Div(&a, &b)
	return z
}

// DivRem returns the floor quotient and the remainder of a / b.
func DivRem(a, b Amount) (Amount, Amount) {
	if b.IsZero() {
		panic(fmt.Sprintf("FATAL: division by zero (numerator %s)", a.Dec()))
	}
	var q, r uint256.Int
	q.DivMod(&a, &b, &r)
	return q, r
}

// CeilDiv returns ceil(a / b).
func CeilDiv(a, b Amount) Amount {
	q, r := DivRem(a, b)
	if !r.IsZero() {
		q = Add(q, NewAmount(1))
	}
	return q
}

// MulDiv computes a * b / d with a 512-bit intermediate product.
func MulDiv(a, b, d Amount, mode RoundingMode) Amount {
	if d.IsZero() {
		panic(fmt.Sprintf("FATAL: division by zero in muldiv (%s * %s)", a.Dec(), b.Dec()))
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&a, &b, &d); overflow {
		panic(fmt.Sprintf("FATAL: muldiv overflow: %s * %s / %s", a.Dec(), b.Dec(), d.Dec()))
	}
	if mode == RoundUp {
		var rem uint256.Int
		if !rem.MulMod(&a, &b, &d).IsZero() {
			z = Add(z, NewAmount(1))
		}
	}
	return z
}

// MulDecimal multiplies two 1e18-scaled values, rounding down.
func MulDecimal(a, b Amount) Amount {
	return MulDiv(a, b, DecimalPrecision, RoundDown)
}

// ApplyBps returns amount * bps / 10000, rounding down.
func ApplyBps(amount Amount, bps uint64) Amount {
	return MulDiv(amount, NewAmount(bps), NewAmount(BasisPoints), RoundDown)
}

func Min(a, b Amount) Amount {
	if a.Lt(&b) {
		return a
	}
	return b
}

// Cmp compares two amounts (-1, 0, +1).
func Cmp(a, b Amount) int {
	return a.Cmp(&b)
}
