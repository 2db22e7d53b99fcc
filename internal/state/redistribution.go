package state

import (
	fpmath "VesselLedger/internal/math"
	"fmt"
)

// RedistributionState is the per-asset redistribution accumulator.
//
// L_coll and L_debt are cumulative rewards per unit of stake (1e18-scaled).
// A redistribution only touches these sums; every Vessel picks up its share
// lazily when it is next settled.
type RedistributionState struct {
	TotalStakes             fpmath.Amount
	TotalStakesSnapshot     fpmath.Amount
	TotalCollateralSnapshot fpmath.Amount

	LColl fpmath.Amount
	LDebt fpmath.Amount

	// Remainders of the last reward-per-unit division, folded into the next.
	LastCollError fpmath.Amount
	LastDebtError fpmath.Amount
}

// NewRedistributionState returns an empty accumulator.
func NewRedistributionState() *RedistributionState {
	return &RedistributionState{}
}

// Redistribute spreads coll and debt over TotalStakes.
//
// The division remainder is carried to the next call so that the sum of
// all pending rewards never drifts from the pooled amount by more than one
// unit per stake, whatever the number of redistributions.
func (rs *RedistributionState) Redistribute(coll, debt fpmath.Amount) {
	if coll.IsZero() && debt.IsZero() {
		return
	}
	if rs.TotalStakes.IsZero() {
		panic(fmt.Sprintf("FATAL: redistribution of coll=%s debt=%s with zero total stakes",
			coll.Dec(), debt.Dec()))
	}

	collPerUnit, collErr := rewardPerUnit(coll, rs.LastCollError, rs.TotalStakes)
	debtPerUnit, debtErr := rewardPerUnit(debt, rs.LastDebtError, rs.TotalStakes)

	rs.LastCollError = collErr
	rs.LastDebtError = debtErr
	rs.LColl = fpmath.Add(rs.LColl, collPerUnit)
	rs.LDebt = fpmath.Add(rs.LDebt, debtPerUnit)
}

// rewardPerUnit computes (amount*1e18 + carry) / total and its remainder.
func rewardPerUnit(amount, carry, total fpmath.Amount) (fpmath.Amount, fpmath.Amount) {
	numerator := fpmath.Add(fpmath.Mul(amount, fpmath.DecimalPrecision), carry)
	return fpmath.DivRem(numerator, total)
}

// Snapshot returns the current accumulator values.
func (rs *RedistributionState) Snapshot() RewardSnapshot {
	return RewardSnapshot{LColl: rs.LColl, LDebt: rs.LDebt}
}

// PendingRewards computes a stake's unapplied share since snap.
func (rs *RedistributionState) PendingRewards(stake fpmath.Amount, snap RewardSnapshot) (coll, debt fpmath.Amount) {
	collDiff := fpmath.Sub(rs.LColl, snap.LColl)
	debtDiff := fpmath.Sub(rs.LDebt, snap.LDebt)
	if !collDiff.IsZero() {
		coll = fpmath.MulDecimal(stake, collDiff)
	}
	if !debtDiff.IsZero() {
		debt = fpmath.MulDecimal(stake, debtDiff)
	}
	return coll, debt
}

// ComputeNewStake derives a stake for coll relative to the totals recorded
// after the last liquidation.
func (rs *RedistributionState) ComputeNewStake(coll fpmath.Amount) fpmath.Amount {
	if rs.TotalCollateralSnapshot.IsZero() {
		return coll
	}
	// TotalStakesSnapshot is never zero while TotalCollateralSnapshot is positive.
	return fpmath.MulDiv(coll, rs.TotalStakesSnapshot, rs.TotalCollateralSnapshot, fpmath.RoundDown)
}

// ReplaceStake applies totalStakes = totalStakes - old + new.
func (rs *RedistributionState) ReplaceStake(oldStake, newStake fpmath.Amount) {
	rs.TotalStakes = fpmath.Add(fpmath.Sub(rs.TotalStakes, oldStake), newStake)
}

// UpdateSystemSnapshots records the stake and collateral totals used by
// ComputeNewStake. totalColl is the system collateral after a liquidation
// batch, excluding the gas compensation about to leave the system.
func (rs *RedistributionState) UpdateSystemSnapshots(totalColl fpmath.Amount) {
	rs.TotalStakesSnapshot = rs.TotalStakes
	rs.TotalCollateralSnapshot = totalColl
}

// SettledVessel is the outcome of settleVessel.
type SettledVessel struct {
	Collateral  fpmath.Amount
	Debt        fpmath.Amount
	PendingColl fpmath.Amount
	PendingDebt fpmath.Amount
	Snapshot    RewardSnapshot
}

// settleVessel materialises a Vessel's pending rewards without mutating
// anything. Non-active Vessels have nothing pending.
func settleVessel(rs *RedistributionState, v *Vessel) SettledVessel {
	out := SettledVessel{
		Collateral: v.Collateral,
		Debt:       v.Debt,
		Snapshot:   rs.Snapshot(),
	}
	if !v.IsActive() {
		return out
	}
	out.PendingColl, out.PendingDebt = rs.PendingRewards(v.Stake, v.RewardSnapshot)
	out.Collateral = fpmath.Add(v.Collateral, out.PendingColl)
	out.Debt = fpmath.Add(v.Debt, out.PendingDebt)
	return out
}
