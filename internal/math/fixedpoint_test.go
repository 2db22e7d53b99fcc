package math_test

import (
	fpmath "VesselLedger/internal/math"
	"testing"
)

func amt(s string) fpmath.Amount {
	return fpmath.MustParseAmount(s)
}

func TestDivRem(t *testing.T) {
	q, r := fpmath.DivRem(fpmath.NewAmount(17), fpmath.NewAmount(5))
	if q.Uint64() != 3 || r.Uint64() != 2 {
		t.Errorf("17/5: got q=%d r=%d, want q=3 r=2", q.Uint64(), r.Uint64())
	}
}

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		a, b uint64
		want uint64
	}{
		{10, 5, 2},
		{11, 5, 3},
		{1, 1_000, 1},
		{0, 7, 0},
	}
	for _, tt := range tests {
		got := fpmath.CeilDiv(fpmath.NewAmount(tt.a), fpmath.NewAmount(tt.b))
		if got.Uint64() != tt.want {
			t.Errorf("ceil(%d/%d): got %d, want %d", tt.a, tt.b, got.Uint64(), tt.want)
		}
	}
}

func TestMulDivRounding(t *testing.T) {
	down := fpmath.MulDiv(fpmath.NewAmount(10), fpmath.NewAmount(10), fpmath.NewAmount(3), fpmath.RoundDown)
	up := fpmath.MulDiv(fpmath.NewAmount(10), fpmath.NewAmount(10), fpmath.NewAmount(3), fpmath.RoundUp)
	if down.Uint64() != 33 {
		t.Errorf("round down: got %d, want 33", down.Uint64())
	}
	if up.Uint64() != 34 {
		t.Errorf("round up: got %d, want 34", up.Uint64())
	}

	exact := fpmath.MulDiv(fpmath.NewAmount(9), fpmath.NewAmount(10), fpmath.NewAmount(3), fpmath.RoundUp)
	if exact.Uint64() != 30 {
		t.Errorf("exact round up: got %d, want 30", exact.Uint64())
	}
}

func TestMulDivWideIntermediate(t *testing.T) {
	// 1e40 * 1e40 overflows 256 bits only as an intermediate; the result fits.
	a := amt("10000000000000000000000000000000000000000")
	got := fpmath.MulDiv(a, a, a, fpmath.RoundDown)
	if !got.Eq(&a) {
		t.Errorf("wide muldiv: got %s, want %s", got.Dec(), a.Dec())
	}
}

func TestMulDivRoundUpWideRemainder(t *testing.T) {
	// The 266-bit product leaves a remainder only visible past 256 bits.
	a := amt("10000000000000000000000000000000000000000")
	b := amt("10000000000000000000000000000000000000001")
	d := amt("30000000000000000000000000000000000000000")

	up := fpmath.MulDiv(a, b, d, fpmath.RoundUp)
	want := amt("3333333333333333333333333333333333333334")
	if !up.Eq(&want) {
		t.Errorf("wide round up: got %s, want %s", up.Dec(), want.Dec())
	}

	three := amt("30000000000000000000000000000000000000000")
	exact := fpmath.MulDiv(a, three, a, fpmath.RoundUp)
	if !exact.Eq(&three) {
		t.Errorf("wide exact round up: got %s, want %s", exact.Dec(), three.Dec())
	}
}

func TestSubUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on underflow")
		}
	}()
	fpmath.Sub(fpmath.NewAmount(1), fpmath.NewAmount(2))
}

func TestDivByZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on division by zero")
		}
	}()
	fpmath.Div(fpmath.NewAmount(1), fpmath.Amount{})
}

func TestSubOrZero(t *testing.T) {
	got := fpmath.SubOrZero(fpmath.NewAmount(3), fpmath.NewAmount(5))
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got.Dec())
	}
}

func TestComputeCR(t *testing.T) {
	// 1 ether at 200 against 100 debt -> 200%
	cr := fpmath.ComputeCR(fpmath.Units(1), fpmath.Units(100), fpmath.Units(200))
	want := fpmath.Units(2)
	if !cr.Eq(&want) {
		t.Errorf("ICR: got %s, want %s", fpmath.Format(cr), fpmath.Format(want))
	}

	noDebt := fpmath.ComputeCR(fpmath.Units(1), fpmath.Amount{}, fpmath.Units(200))
	if !noDebt.Eq(&fpmath.MaxAmount) {
		t.Error("debt-free ratio should be MaxAmount")
	}
}

func TestComputeNominalCR(t *testing.T) {
	nicr := fpmath.ComputeNominalCR(fpmath.Units(1), fpmath.Units(100))
	// 1e18 * 1e20 / 1e20
	want := fpmath.Units(1)
	if !nicr.Eq(&want) {
		t.Errorf("NICR: got %s, want %s", nicr.Dec(), want.Dec())
	}
}

func TestApplyBps(t *testing.T) {
	fee := fpmath.ApplyBps(fpmath.Units(2000), 50)
	want := fpmath.Units(10)
	if !fee.Eq(&want) {
		t.Errorf("50 bps of 2000: got %s, want 10", fpmath.Format(fee))
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.1", "1100000000000000000"},
		{"2000", "2000000000000000000000"},
		{"0.000000000000000001", "1"},
		{"0.0000000000000000019", "1"},
	}
	for _, tt := range tests {
		got, err := fpmath.ParseDecimal(tt.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%s): %v", tt.in, err)
		}
		if got.Dec() != tt.want {
			t.Errorf("ParseDecimal(%s): got %s, want %s", tt.in, got.Dec(), tt.want)
		}
	}

	if _, err := fpmath.ParseDecimal("-1"); err == nil {
		t.Error("expected error for negative decimal")
	}
}

func TestFormat(t *testing.T) {
	got := fpmath.Format(amt("6666666666666666666666"))
	if got != "6666.666666666666666666" {
		t.Errorf("format: got %s", got)
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	if _, err := fpmath.ParseAmount("12abc"); err == nil {
		t.Error("expected parse error")
	}
	zero, err := fpmath.ParseAmount("")
	if err != nil || !zero.IsZero() {
		t.Errorf("empty string should parse as zero, got %s err=%v", zero.Dec(), err)
	}
}
