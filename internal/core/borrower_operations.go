package core

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"fmt"
)

// handleOpenVessel locks collateral and mints the requested debt. The
// recorded debt is amount + borrowing fee + gas compensation; the fee is
// waived in recovery mode.
func (c *DeterministicCore) handleOpenVessel(evt *event.OpenVessel) error {
	ac, err := c.loadAsset(evt.Asset, true)
	if err != nil {
		return err
	}
	if c.vessels.GetStatus(evt.Asset, evt.Borrower) == state.VesselStatusActive {
		return state.ErrVesselAlreadyActive
	}
	if evt.Collateral.IsZero() || evt.DebtAmount.IsZero() {
		return ErrZeroAmount
	}

	recovery := c.checkRecoveryMode(ac)
	var fee fpmath.Amount
	if !recovery {
		fee = fpmath.ApplyBps(evt.DebtAmount, ac.params.BorrowingFeeBps)
	}
	netDebt := fpmath.Add(evt.DebtAmount, fee)
	if netDebt.Lt(&ac.params.MinNetDebt) {
		return fmt.Errorf("%w: %s < %s", ErrNetDebtTooSmall, fpmath.Format(netDebt), fpmath.Format(ac.params.MinNetDebt))
	}
	compositeDebt := fpmath.Add(netDebt, ac.params.DebtTokenGasCompensation)

	icr := fpmath.ComputeCR(evt.Collateral, compositeDebt, ac.price)
	if recovery {
		if icr.Lt(&ac.params.CCR) {
			return ErrICRBelowCCR
		}
	} else {
		if icr.Lt(&ac.params.MCR) {
			return ErrICRBelowMCR
		}
		newTCR := c.newTCR(ac, evt.Collateral, fpmath.Amount{}, compositeDebt, fpmath.Amount{})
		if newTCR.Lt(&ac.params.CCR) {
			return ErrTCRBelowCCR
		}
	}
	if err := c.requireMintCap(ac, compositeDebt); err != nil {
		return err
	}
	wallet := token.User(evt.Borrower)
	if err := c.tokens.RequireBalance(evt.Asset, wallet, evt.Collateral); err != nil {
		return err
	}

	if _, err := c.vessels.OpenVessel(evt.Asset, evt.Borrower, evt.Collateral, compositeDebt); err != nil {
		return err
	}
	c.pools.IncreaseActive(evt.Asset, evt.Collateral, compositeDebt)

	c.transfer(evt.Asset, wallet, token.AccountProtocol, evt.Collateral)
	c.mint(c.cfg.DebtToken, wallet, evt.DebtAmount)
	c.mint(c.cfg.DebtToken, token.AccountFeeCollector, fee)
	c.mint(c.cfg.DebtToken, token.AccountGasPool, ac.params.DebtTokenGasCompensation)

	c.touchVessel(evt.Asset, evt.Borrower)
	return nil
}

// handleAdjustVessel applies a collateral top-up or withdrawal together
// with a debt draw or repayment. Pending rewards are folded in first.
func (c *DeterministicCore) handleAdjustVessel(evt *event.AdjustVessel) error {
	if !evt.CollTopUp.IsZero() && !evt.CollWithdrawal.IsZero() {
		return fmt.Errorf("%w: cannot top up and withdraw collateral at once", ErrInvalidAdjustment)
	}
	if evt.CollTopUp.IsZero() && evt.CollWithdrawal.IsZero() && evt.DebtChange.IsZero() {
		return fmt.Errorf("%w: no change requested", ErrInvalidAdjustment)
	}
	debtIncrease := evt.IsDebtIncrease && !evt.DebtChange.IsZero()
	repayment := !evt.IsDebtIncrease && !evt.DebtChange.IsZero()

	ac, err := c.loadAsset(evt.Asset, debtIncrease)
	if err != nil {
		return err
	}
	if _, err := c.vessels.RequireActive(evt.Asset, evt.Borrower); err != nil {
		return err
	}
	entire, err := c.vessels.GetEntireDebtAndColl(evt.Asset, evt.Borrower)
	if err != nil {
		return err
	}
	if evt.CollWithdrawal.Gt(&entire.Collateral) {
		return ErrWithdrawalTooLarge
	}

	recovery := c.checkRecoveryMode(ac)
	var fee, debtIn, debtOut fpmath.Amount
	if debtIncrease {
		if !recovery {
			fee = fpmath.ApplyBps(evt.DebtChange, ac.params.BorrowingFeeBps)
		}
		debtIn = fpmath.Add(evt.DebtChange, fee)
	}
	if repayment {
		netDebt := fpmath.Sub(entire.Debt, ac.params.DebtTokenGasCompensation)
		if evt.DebtChange.Gt(&netDebt) {
			return ErrRepaymentTooLarge
		}
		debtOut = evt.DebtChange
	}

	newColl := fpmath.Sub(fpmath.Add(entire.Collateral, evt.CollTopUp), evt.CollWithdrawal)
	newDebt := fpmath.Sub(fpmath.Add(entire.Debt, debtIn), debtOut)
	newNetDebt := fpmath.Sub(newDebt, ac.params.DebtTokenGasCompensation)
	if newNetDebt.Lt(&ac.params.MinNetDebt) {
		return fmt.Errorf("%w: %s < %s", ErrNetDebtTooSmall, fpmath.Format(newNetDebt), fpmath.Format(ac.params.MinNetDebt))
	}

	oldICR := fpmath.ComputeCR(entire.Collateral, entire.Debt, ac.price)
	newICR := fpmath.ComputeCR(newColl, newDebt, ac.price)
	if recovery {
		if !evt.CollWithdrawal.IsZero() {
			return fmt.Errorf("%w: collateral withdrawal", ErrRecoveryMode)
		}
		if debtIncrease && newICR.Lt(&ac.params.CCR) {
			return ErrICRBelowCCR
		}
		if newICR.Lt(&oldICR) {
			return ErrICRDecreased
		}
	} else {
		if newICR.Lt(&ac.params.MCR) {
			return ErrICRBelowMCR
		}
		newTCR := c.newTCR(ac, evt.CollTopUp, evt.CollWithdrawal, debtIn, debtOut)
		if newTCR.Lt(&ac.params.CCR) {
			return ErrTCRBelowCCR
		}
	}
	if debtIncrease {
		if err := c.requireMintCap(ac, debtIn); err != nil {
			return err
		}
	}

	wallet := token.User(evt.Borrower)
	if err := c.tokens.RequireBalance(evt.Asset, wallet, evt.CollTopUp); err != nil {
		return err
	}
	if err := c.tokens.RequireBalance(c.cfg.DebtToken, wallet, debtOut); err != nil {
		return err
	}

	if _, err := c.vessels.ApplyPendingRewards(evt.Asset, evt.Borrower); err != nil {
		return err
	}
	if _, err := c.vessels.SetCollAndDebt(evt.Asset, evt.Borrower, newColl, newDebt); err != nil {
		return err
	}
	c.pools.IncreaseActive(evt.Asset, evt.CollTopUp, debtIn)
	c.pools.DecreaseActive(evt.Asset, evt.CollWithdrawal, debtOut)

	c.transfer(evt.Asset, wallet, token.AccountProtocol, evt.CollTopUp)
	c.transfer(evt.Asset, token.AccountProtocol, wallet, evt.CollWithdrawal)
	if debtIncrease {
		c.mint(c.cfg.DebtToken, wallet, evt.DebtChange)
		c.mint(c.cfg.DebtToken, token.AccountFeeCollector, fee)
	}
	c.burn(c.cfg.DebtToken, wallet, debtOut)

	c.touchVessel(evt.Asset, evt.Borrower)
	return nil
}

// handleCloseVessel repays the net debt from the borrower's wallet, burns
// the gas compensation reserve and returns all collateral.
func (c *DeterministicCore) handleCloseVessel(evt *event.CloseVessel) error {
	ac, err := c.loadAsset(evt.Asset, false)
	if err != nil {
		return err
	}
	if _, err := c.vessels.RequireActive(evt.Asset, evt.Borrower); err != nil {
		return err
	}
	if c.checkRecoveryMode(ac) {
		return ErrRecoveryMode
	}
	entire, err := c.vessels.GetEntireDebtAndColl(evt.Asset, evt.Borrower)
	if err != nil {
		return err
	}
	newTCR := c.newTCR(ac, fpmath.Amount{}, entire.Collateral, fpmath.Amount{}, entire.Debt)
	if newTCR.Lt(&ac.params.CCR) {
		return ErrTCRBelowCCR
	}

	gasComp := fpmath.Min(ac.params.DebtTokenGasCompensation, entire.Debt)
	repay := fpmath.Sub(entire.Debt, gasComp)
	wallet := token.User(evt.Borrower)
	if err := c.tokens.RequireBalance(c.cfg.DebtToken, wallet, repay); err != nil {
		return err
	}

	if _, err := c.vessels.ApplyPendingRewards(evt.Asset, evt.Borrower); err != nil {
		return err
	}
	if err := c.vessels.CloseVessel(evt.Asset, evt.Borrower, state.VesselStatusClosedByOwner); err != nil {
		return err
	}
	c.pools.DecreaseActive(evt.Asset, entire.Collateral, entire.Debt)

	c.burn(c.cfg.DebtToken, wallet, repay)
	c.burn(c.cfg.DebtToken, token.AccountGasPool, gasComp)
	c.transfer(evt.Asset, token.AccountProtocol, wallet, entire.Collateral)

	c.touchVessel(evt.Asset, evt.Borrower)
	return nil
}

// handleClaimCollateral pays out a borrower's surplus collateral left by a
// capped liquidation or a full redemption.
func (c *DeterministicCore) handleClaimCollateral(evt *event.ClaimCollateral) error {
	amount, err := c.pools.ClaimSurplus(evt.Asset, evt.Borrower)
	if err != nil {
		return err
	}
	c.transfer(evt.Asset, token.AccountProtocol, token.User(evt.Borrower), amount)
	c.touched.asset(evt.Asset)
	return nil
}
