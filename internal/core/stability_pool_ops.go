package core

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"

	"github.com/google/uuid"
)

// settleDeposit reads a deposit's compounded value, capped at the pool's
// total so rounding can never let one depositor take more than the pool
// holds.
func (c *DeterministicCore) settleDeposit(asset string, depositor uuid.UUID) state.SettledDeposit {
	settled := c.stabilityPool.Settle(asset, depositor)
	settled.Compounded = fpmath.Min(settled.Compounded, c.stabilityPool.TotalDeposits(asset))
	return settled
}

// payDepositorGains sends a settled deposit's collateral and reward gains
// to the depositor's wallet.
func (c *DeterministicCore) payDepositorGains(asset string, depositor uuid.UUID, settled state.SettledDeposit) {
	wallet := token.User(depositor)
	if !settled.CollateralGain.IsZero() {
		c.pools.SendStabilityPoolColl(asset, settled.CollateralGain)
		c.transfer(asset, token.AccountProtocol, wallet, settled.CollateralGain)
	}
	c.transfer(c.cfg.RewardToken, token.AccountCommunityIssuance, wallet, settled.RewardGain)
}

// handleProvideToSP pays out accrued gains, then restarts the deposit at
// its compounded value plus the new amount.
func (c *DeterministicCore) handleProvideToSP(evt *event.ProvideToSP) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	if _, err := c.params.Require(evt.Asset); err != nil {
		return err
	}
	wallet := token.User(evt.Depositor)
	if err := c.tokens.RequireBalance(c.cfg.DebtToken, wallet, evt.Amount); err != nil {
		return err
	}

	settled := c.settleDeposit(evt.Asset, evt.Depositor)
	c.payDepositorGains(evt.Asset, evt.Depositor, settled)
	c.stabilityPool.ResetDeposit(evt.Asset, evt.Depositor, settled.Compounded, fpmath.Add(settled.Compounded, evt.Amount))
	c.transfer(c.cfg.DebtToken, wallet, token.AccountStabilityPool, evt.Amount)

	c.touchDeposit(evt.Asset, evt.Depositor)
	return nil
}

// handleWithdrawFromSP pays out gains and withdraws up to Amount of the
// compounded deposit. Principal cannot leave while any Vessel of the asset
// is below MCR; a zero amount only claims gains and is always allowed.
func (c *DeterministicCore) handleWithdrawFromSP(evt *event.WithdrawFromSP) error {
	d := c.stabilityPool.GetDeposit(evt.Asset, evt.Depositor)
	if d == nil || d.InitialValue.IsZero() {
		return ErrNoDeposit
	}
	if !evt.Amount.IsZero() {
		if err := c.requireNoUndercollateralizedVessels(evt.Asset); err != nil {
			return err
		}
	}

	settled := c.settleDeposit(evt.Asset, evt.Depositor)
	withdrawal := fpmath.Min(evt.Amount, settled.Compounded)

	c.payDepositorGains(evt.Asset, evt.Depositor, settled)
	c.stabilityPool.ResetDeposit(evt.Asset, evt.Depositor, settled.Compounded, fpmath.Sub(settled.Compounded, withdrawal))
	c.transfer(c.cfg.DebtToken, token.AccountStabilityPool, token.User(evt.Depositor), withdrawal)

	c.touchDeposit(evt.Asset, evt.Depositor)
	return nil
}

// requireNoUndercollateralizedVessels checks the lowest-ratio Vessel. With
// a known price it is the riskiest one, so checking it covers them all.
func (c *DeterministicCore) requireNoUndercollateralizedVessels(asset string) error {
	borrower, ok := c.sorted.First(asset)
	if !ok {
		return nil
	}
	ac, err := c.loadAsset(asset, false)
	if err != nil {
		return err
	}
	entire, err := c.vessels.GetEntireDebtAndColl(asset, borrower)
	if err != nil {
		return err
	}
	icr := fpmath.ComputeCR(entire.Collateral, entire.Debt, ac.price)
	if icr.Lt(&ac.params.MCR) {
		return ErrUndercollateral
	}
	return nil
}

// handleRewardIssuance mints reward tokens into community issuance and
// credits them to the asset's depositors through G.
func (c *DeterministicCore) handleRewardIssuance(evt *event.RewardIssuance) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	if _, err := c.params.Require(evt.Asset); err != nil {
		return err
	}
	if !c.stabilityPool.IssueRewards(evt.Asset, evt.Amount) {
		return ErrEmptyPool
	}
	c.mint(c.cfg.RewardToken, token.AccountCommunityIssuance, evt.Amount)
	c.touched.asset(evt.Asset)
	return nil
}
