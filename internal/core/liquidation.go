package core

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"fmt"

	"github.com/google/uuid"
)

// LiquidationMode names the rule that liquidated a Vessel.
type LiquidationMode string

const (
	LiquidationNormal LiquidationMode = "normal"
	// ICR <= 100%: nothing to offset, everything is redistributed.
	LiquidationRecoveryRedistribute LiquidationMode = "recovery_redistribute"
	// 100% < ICR < MCR in recovery mode: same split as normal mode.
	LiquidationRecoveryUnderMCR LiquidationMode = "recovery_under_mcr"
	// MCR <= ICR < TCR: offset in full, collateral capped at debt * MCR.
	LiquidationRecoveryCapped LiquidationMode = "recovery_capped"
)

// LiquidationRecord is the outcome of liquidating one Vessel.
type LiquidationRecord struct {
	Asset      string
	Borrower   uuid.UUID
	Liquidator uuid.UUID
	Mode       LiquidationMode

	// Entire position, pending rewards included.
	Collateral fpmath.Amount
	Debt       fpmath.Amount
	ICR        fpmath.Amount
	Price      fpmath.Amount

	CollGasCompensation fpmath.Amount
	DebtGasCompensation fpmath.Amount
	DebtToOffset        fpmath.Amount
	CollToStabilityPool fpmath.Amount
	DebtToRedistribute  fpmath.Amount
	CollToRedistribute  fpmath.Amount
	CollSurplus         fpmath.Amount
}

// liquidationTotals sums the records of one batch.
type liquidationTotals struct {
	collGasComp        fpmath.Amount
	debtGasComp        fpmath.Amount
	debtToOffset       fpmath.Amount
	collToSP           fpmath.Amount
	debtToRedistribute fpmath.Amount
	collToRedistribute fpmath.Amount
	liquidatedStakes   fpmath.Amount
}

func (t *liquidationTotals) add(rec *LiquidationRecord, stake fpmath.Amount) {
	t.collGasComp = fpmath.Add(t.collGasComp, rec.CollGasCompensation)
	t.debtGasComp = fpmath.Add(t.debtGasComp, rec.DebtGasCompensation)
	t.debtToOffset = fpmath.Add(t.debtToOffset, rec.DebtToOffset)
	t.collToSP = fpmath.Add(t.collToSP, rec.CollToStabilityPool)
	t.debtToRedistribute = fpmath.Add(t.debtToRedistribute, rec.DebtToRedistribute)
	t.collToRedistribute = fpmath.Add(t.collToRedistribute, rec.CollToRedistribute)
	t.liquidatedStakes = fpmath.Add(t.liquidatedStakes, stake)
}

// liquidationPlan tracks the system figures that change as a batch is
// planned, so each Vessel is judged against the state its predecessors left.
type liquidationPlan struct {
	ac          *assetContext
	liquidator  uuid.UUID
	systemColl  fpmath.Amount
	systemDebt  fpmath.Amount
	spRemaining fpmath.Amount

	records []LiquidationRecord
	totals  liquidationTotals
}

func (c *DeterministicCore) newLiquidationPlan(ac *assetContext, liquidator uuid.UUID) *liquidationPlan {
	return &liquidationPlan{
		ac:          ac,
		liquidator:  liquidator,
		systemColl:  c.pools.EntireSystemColl(ac.asset),
		systemDebt:  c.pools.EntireSystemDebt(ac.asset),
		spRemaining: c.stabilityPool.TotalDeposits(ac.asset),
	}
}

// plan evaluates one Vessel. It returns false, with no record added, when
// the Vessel cannot be liquidated under the current mode.
func (c *DeterministicCore) plan(p *liquidationPlan, borrower uuid.UUID) (bool, error) {
	v, err := c.vessels.RequireActive(p.ac.asset, borrower)
	if err != nil {
		return false, err
	}
	entire, err := c.vessels.GetEntireDebtAndColl(p.ac.asset, borrower)
	if err != nil {
		return false, err
	}
	params := p.ac.params
	icr := fpmath.ComputeCR(entire.Collateral, entire.Debt, p.ac.price)
	tcr := fpmath.ComputeCR(p.systemColl, p.systemDebt, p.ac.price)
	recovery := tcr.Lt(&params.CCR)

	rec := LiquidationRecord{
		Asset:      p.ac.asset,
		Borrower:   borrower,
		Liquidator: p.liquidator,
		Collateral: entire.Collateral,
		Debt:       entire.Debt,
		ICR:        icr,
		Price:      p.ac.price,
	}
	rec.DebtGasCompensation = fpmath.Min(params.DebtTokenGasCompensation, entire.Debt)

	switch {
	case !recovery:
		if !icr.Lt(&params.MCR) {
			return false, nil
		}
		rec.Mode = LiquidationNormal
		splitOffsetAndRedistribution(&rec, params, p.spRemaining)

	case !icr.Gt(&fpmath.DecimalPrecision):
		rec.Mode = LiquidationRecoveryRedistribute
		rec.CollGasCompensation = fpmath.Div(entire.Collateral, fpmath.NewAmount(params.PercentDivisor))
		rec.DebtToRedistribute = entire.Debt
		rec.CollToRedistribute = fpmath.Sub(entire.Collateral, rec.CollGasCompensation)

	case icr.Lt(&params.MCR):
		rec.Mode = LiquidationRecoveryUnderMCR
		splitOffsetAndRedistribution(&rec, params, p.spRemaining)

	case icr.Lt(&tcr) && !entire.Debt.Gt(&p.spRemaining):
		rec.Mode = LiquidationRecoveryCapped
		cappedColl := fpmath.MulDiv(entire.Debt, params.MCR, p.ac.price, fpmath.RoundDown)
		rec.CollGasCompensation = fpmath.Div(cappedColl, fpmath.NewAmount(params.PercentDivisor))
		rec.DebtToOffset = entire.Debt
		rec.CollToStabilityPool = fpmath.Sub(cappedColl, rec.CollGasCompensation)
		rec.CollSurplus = fpmath.Sub(entire.Collateral, cappedColl)

	default:
		return false, nil
	}

	p.spRemaining = fpmath.Sub(p.spRemaining, rec.DebtToOffset)
	leaving := fpmath.Add(fpmath.Add(rec.CollGasCompensation, rec.CollToStabilityPool), rec.CollSurplus)
	p.systemColl = fpmath.Sub(p.systemColl, leaving)
	p.systemDebt = fpmath.Sub(p.systemDebt, rec.DebtToOffset)

	p.records = append(p.records, rec)
	p.totals.add(&rec, v.Stake)
	return true, nil
}

// splitOffsetAndRedistribution offsets as much debt as the Stability Pool
// can absorb and redistributes the rest, with collateral split pro rata.
func splitOffsetAndRedistribution(rec *LiquidationRecord, params *state.CollateralParams, spRemaining fpmath.Amount) {
	rec.CollGasCompensation = fpmath.Div(rec.Collateral, fpmath.NewAmount(params.PercentDivisor))
	collToLiquidate := fpmath.Sub(rec.Collateral, rec.CollGasCompensation)

	if spRemaining.IsZero() {
		rec.DebtToRedistribute = rec.Debt
		rec.CollToRedistribute = collToLiquidate
		return
	}
	rec.DebtToOffset = fpmath.Min(rec.Debt, spRemaining)
	rec.CollToStabilityPool = fpmath.MulDiv(collToLiquidate, rec.DebtToOffset, rec.Debt, fpmath.RoundDown)
	rec.DebtToRedistribute = fpmath.Sub(rec.Debt, rec.DebtToOffset)
	rec.CollToRedistribute = fpmath.Sub(collToLiquidate, rec.CollToStabilityPool)
}

// execute applies a fully planned batch. Nothing is mutated before every
// precondition has been checked.
func (c *DeterministicCore) execute(p *liquidationPlan) error {
	asset := p.ac.asset
	t := p.totals

	if !t.debtToRedistribute.IsZero() || !t.collToRedistribute.IsZero() {
		rs := c.vessels.Redistribution(asset)
		remaining := fpmath.SubOrZero(rs.TotalStakes, t.liquidatedStakes)
		if remaining.IsZero() {
			return ErrNoStakesToRedistribute
		}
	}

	for i := range p.records {
		rec := &p.records[i]
		if _, err := c.vessels.ApplyPendingRewards(asset, rec.Borrower); err != nil {
			return err
		}
		if err := c.vessels.CloseVessel(asset, rec.Borrower, state.VesselStatusClosedByLiquidation); err != nil {
			return err
		}
		c.pools.AccountSurplus(asset, rec.Borrower, rec.CollSurplus)
		c.touchVessel(asset, rec.Borrower)
	}

	if !t.debtToOffset.IsZero() {
		c.stabilityPool.Offset(asset, t.debtToOffset, t.collToSP)
		c.pools.MoveActiveToStabilityPool(asset, t.collToSP, t.debtToOffset)
		c.burn(c.cfg.DebtToken, token.AccountStabilityPool, t.debtToOffset)
	}
	c.vessels.Redistribute(asset, t.collToRedistribute, t.debtToRedistribute)
	c.vessels.UpdateSystemSnapshotsExcludeCollRemainder(asset, t.collGasComp)

	c.pools.DecreaseActive(asset, t.collGasComp, fpmath.Amount{})
	liquidator := token.User(p.liquidator)
	c.transfer(asset, token.AccountProtocol, liquidator, t.collGasComp)
	c.transfer(c.cfg.DebtToken, token.AccountGasPool, liquidator, t.debtGasComp)

	c.touched.asset(asset)
	c.effects.Liquidations = append(c.effects.Liquidations, p.records...)
	return nil
}

// handleLiquidate liquidates one Vessel or rejects the command.
func (c *DeterministicCore) handleLiquidate(evt *event.Liquidate) error {
	ac, err := c.loadAsset(evt.Asset, false)
	if err != nil {
		return err
	}
	p := c.newLiquidationPlan(ac, evt.Liquidator)
	ok, err := c.plan(p, evt.Borrower)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotLiquidatable, evt.Asset, evt.Borrower)
	}
	return c.execute(p)
}

// handleLiquidateVessels walks the sorted index from the lowest nominal
// ratio and stops at the first Vessel that cannot be liquidated.
func (c *DeterministicCore) handleLiquidateVessels(evt *event.LiquidateVessels) error {
	if evt.MaxVessels <= 0 {
		return fmt.Errorf("%w: max vessels must be positive", ErrNothingToLiquidate)
	}
	ac, err := c.loadAsset(evt.Asset, false)
	if err != nil {
		return err
	}
	p := c.newLiquidationPlan(ac, evt.Liquidator)
	for _, borrower := range c.sorted.LowestN(evt.Asset, evt.MaxVessels) {
		ok, err := c.plan(p, borrower)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if len(p.records) == 0 {
		return ErrNothingToLiquidate
	}
	return c.execute(p)
}
