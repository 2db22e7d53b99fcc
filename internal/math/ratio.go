package math

// ComputeCR returns the collateral ratio coll * price / debt, 1e18-scaled.
// A position without debt has an unbounded ratio.
func ComputeCR(coll, debt, price Amount) Amount {
	if debt.IsZero() {
		return MaxAmount
	}
	return MulDiv(coll, price, debt, RoundDown)
}

// ComputeNominalCR returns coll * 1e20 / debt. It ignores price, so the
// ordering it induces is stable across oracle updates.
func ComputeNominalCR(coll, debt Amount) Amount {
	if debt.IsZero() {
		return MaxAmount
	}
	return MulDiv(coll, NICRPrecision, debt, RoundDown)
}

// CollateralValue returns coll * price / 1e18.
func CollateralValue(coll, price Amount) Amount {
	return MulDecimal(coll, price)
}

// CollateralForDebt returns how much collateral is worth debt at price.
func CollateralForDebt(debt, price Amount) Amount {
	return MulDiv(debt, DecimalPrecision, price, RoundDown)
}
