package core

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"

	"github.com/google/uuid"
)

// RedemptionRecord summarises one redemption.
type RedemptionRecord struct {
	Asset    string
	Redeemer uuid.UUID
	Price    fpmath.Amount

	Requested     fpmath.Amount
	DebtRedeemed  fpmath.Amount
	CollRedeemed  fpmath.Amount // gross, before the fee
	CollFee       fpmath.Amount
	VesselsClosed int
	Lots          []RedemptionLot
}

// RedemptionLot is the part of a redemption served by one Vessel.
type RedemptionLot struct {
	Borrower uuid.UUID
	Debt     fpmath.Amount
	Coll     fpmath.Amount
	Closed   bool
}

// handleRedeemCollateral swaps debt tokens for collateral at face value,
// drawing from the lowest-ratio Vessels that are at or above MCR. A Vessel
// drained to its gas compensation is closed and its remaining collateral
// becomes claimable surplus. A partial lot that would leave a Vessel under
// the minimum net debt ends the redemption.
func (c *DeterministicCore) handleRedeemCollateral(evt *event.RedeemCollateral) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	ac, err := c.loadAsset(evt.Asset, false)
	if err != nil {
		return err
	}
	tcr := c.getTCR(evt.Asset, ac.price)
	if tcr.Lt(&ac.params.MCR) {
		return ErrTCRBelowMCR
	}
	wallet := token.User(evt.Redeemer)
	if err := c.tokens.RequireBalance(c.cfg.DebtToken, wallet, evt.Amount); err != nil {
		return err
	}

	params := ac.params
	gasComp := params.DebtTokenGasCompensation
	remaining := evt.Amount
	lots := make([]RedemptionLot, 0)

	var planErr error
	c.sorted.Ascend(evt.Asset, func(borrower uuid.UUID, _ fpmath.Amount) bool {
		if remaining.IsZero() || (evt.MaxIterations > 0 && len(lots) >= evt.MaxIterations) {
			return false
		}
		entire, err := c.vessels.GetEntireDebtAndColl(evt.Asset, borrower)
		if err != nil {
			planErr = err
			return false
		}
		icr := fpmath.ComputeCR(entire.Collateral, entire.Debt, ac.price)
		if icr.Lt(&params.MCR) {
			return true
		}

		netDebt := fpmath.SubOrZero(entire.Debt, gasComp)
		debtLot := fpmath.Min(remaining, netDebt)
		if debtLot.IsZero() {
			return true
		}
		collLot := fpmath.CollateralForDebt(debtLot, ac.price)
		newDebt := fpmath.Sub(entire.Debt, debtLot)
		closed := newDebt.Eq(&gasComp)
		if !closed {
			newNetDebt := fpmath.Sub(newDebt, gasComp)
			if newNetDebt.Lt(&params.MinNetDebt) {
				return false
			}
		}
		lots = append(lots, RedemptionLot{Borrower: borrower, Debt: debtLot, Coll: collLot, Closed: closed})
		remaining = fpmath.Sub(remaining, debtLot)
		return true
	})
	if planErr != nil {
		return planErr
	}
	if len(lots) == 0 {
		return ErrUnableToRedeem
	}

	rec := &RedemptionRecord{
		Asset:     evt.Asset,
		Redeemer:  evt.Redeemer,
		Price:     ac.price,
		Requested: evt.Amount,
		Lots:      lots,
	}
	for _, lot := range lots {
		settled, err := c.vessels.ApplyPendingRewards(evt.Asset, lot.Borrower)
		if err != nil {
			return err
		}
		newColl := fpmath.Sub(settled.Collateral, lot.Coll)
		newDebt := fpmath.Sub(settled.Debt, lot.Debt)
		c.pools.DecreaseActive(evt.Asset, lot.Coll, lot.Debt)

		if lot.Closed {
			if err := c.vessels.CloseVessel(evt.Asset, lot.Borrower, state.VesselStatusClosedByRedemption); err != nil {
				return err
			}
			c.pools.DecreaseActive(evt.Asset, fpmath.Amount{}, newDebt)
			c.pools.AccountSurplus(evt.Asset, lot.Borrower, newColl)
			c.burn(c.cfg.DebtToken, token.AccountGasPool, newDebt)
			rec.VesselsClosed++
		} else if _, err := c.vessels.SetCollAndDebt(evt.Asset, lot.Borrower, newColl, newDebt); err != nil {
			return err
		}

		rec.DebtRedeemed = fpmath.Add(rec.DebtRedeemed, lot.Debt)
		rec.CollRedeemed = fpmath.Add(rec.CollRedeemed, lot.Coll)
		c.touchVessel(evt.Asset, lot.Borrower)
	}

	rec.CollFee = fpmath.ApplyBps(rec.CollRedeemed, params.RedemptionFeeBps)
	c.burn(c.cfg.DebtToken, wallet, rec.DebtRedeemed)
	c.transfer(evt.Asset, token.AccountProtocol, wallet, fpmath.Sub(rec.CollRedeemed, rec.CollFee))
	c.transfer(evt.Asset, token.AccountProtocol, token.AccountFeeCollector, rec.CollFee)

	c.touched.asset(evt.Asset)
	c.effects.Redemption = rec
	return nil
}
