package core

import (
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"

	"github.com/google/uuid"
)

// Read-side accessors. They never mutate state and must only be called
// from the goroutine that owns the core, normally through Runner.Read.

// VesselView is a Vessel with its pending rewards applied on paper.
type VesselView struct {
	Asset       string
	Borrower    uuid.UUID
	Status      state.VesselStatus
	Collateral  fpmath.Amount // entire, pending included
	Debt        fpmath.Amount
	PendingColl fpmath.Amount
	PendingDebt fpmath.Amount
	Stake       fpmath.Amount
	ICR         fpmath.Amount // zero without a price
	NICR        fpmath.Amount
	Version     int64
}

func (c *DeterministicCore) GetVesselView(asset string, borrower uuid.UUID) (VesselView, bool) {
	v := c.vessels.GetVessel(asset, borrower)
	if v == nil {
		return VesselView{}, false
	}
	view := VesselView{
		Asset:      v.Asset,
		Borrower:   v.Borrower,
		Status:     v.Status,
		Collateral: v.Collateral,
		Debt:       v.Debt,
		Stake:      v.Stake,
		Version:    v.Version,
	}
	if !v.IsActive() {
		return view, true
	}
	entire, err := c.vessels.GetEntireDebtAndColl(asset, borrower)
	if err != nil {
		return view, true
	}
	view.Collateral = entire.Collateral
	view.Debt = entire.Debt
	view.PendingColl = entire.PendingColl
	view.PendingDebt = entire.PendingDebt
	view.NICR = fpmath.ComputeNominalCR(entire.Collateral, entire.Debt)
	if price, err := c.prices.GetPrice(asset); err == nil {
		view.ICR = fpmath.ComputeCR(entire.Collateral, entire.Debt, price)
	}
	return view, true
}

// ListVessels returns up to limit active Vessels from the lowest nominal
// ratio upwards. A non-positive limit lists all of them.
func (c *DeterministicCore) ListVessels(asset string, limit int) []VesselView {
	out := make([]VesselView, 0)
	c.sorted.Ascend(asset, func(borrower uuid.UUID, _ fpmath.Amount) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if view, ok := c.GetVesselView(asset, borrower); ok {
			out = append(out, view)
		}
		return true
	})
	return out
}

// DepositView is a Stability Pool deposit with its gains to date.
type DepositView struct {
	Asset          string
	Depositor      uuid.UUID
	InitialValue   fpmath.Amount
	Compounded     fpmath.Amount
	CollateralGain fpmath.Amount
	RewardGain     fpmath.Amount
	Version        int64
}

func (c *DeterministicCore) GetDepositView(asset string, depositor uuid.UUID) (DepositView, bool) {
	d := c.stabilityPool.GetDeposit(asset, depositor)
	if d == nil {
		return DepositView{}, false
	}
	settled := c.settleDeposit(asset, depositor)
	return DepositView{
		Asset:          asset,
		Depositor:      depositor,
		InitialValue:   d.InitialValue,
		Compounded:     settled.Compounded,
		CollateralGain: settled.CollateralGain,
		RewardGain:     settled.RewardGain,
		Version:        d.Version,
	}, true
}

// AssetView summarises one collateral asset.
type AssetView struct {
	Asset        string
	Params       state.CollateralParams
	Price        fpmath.Amount
	HasPrice     bool
	TCR          fpmath.Amount
	RecoveryMode bool

	Pools          state.AssetPools
	Redistribution state.RedistributionState

	StabilityPoolDeposits fpmath.Amount
	P                     fpmath.Amount
	Epoch                 uint64
	Scale                 uint64

	ActiveVessels int
}

func (c *DeterministicCore) GetAssetView(asset string) (AssetView, error) {
	params, err := c.params.Require(asset)
	if err != nil {
		return AssetView{}, err
	}
	sp := c.stabilityPool.State(asset)
	view := AssetView{
		Asset:                 asset,
		Params:                *params,
		Pools:                 *c.pools.Asset(asset),
		Redistribution:        *c.vessels.Redistribution(asset),
		StabilityPoolDeposits: sp.TotalDeposits,
		P:                     sp.P,
		Epoch:                 sp.CurrentEpoch,
		Scale:                 sp.CurrentScale,
		ActiveVessels:         c.sorted.Size(asset),
	}
	if price, err := c.prices.GetPrice(asset); err == nil {
		view.Price = price
		view.HasPrice = true
		view.TCR = c.getTCR(asset, price)
		view.RecoveryMode = view.TCR.Lt(&params.CCR)
	}
	return view, nil
}

// Assets lists the configured collateral assets.
func (c *DeterministicCore) Assets() []string {
	return c.params.Assets()
}

func (c *DeterministicCore) BalanceOf(tok string, account token.Account) fpmath.Amount {
	return c.tokens.BalanceOf(tok, account)
}

func (c *DeterministicCore) TotalSupply(tok string) fpmath.Amount {
	return c.tokens.TotalSupply(tok)
}

// Surplus returns a borrower's claimable collateral.
func (c *DeterministicCore) Surplus(asset string, borrower uuid.UUID) fpmath.Amount {
	return c.pools.Surplus(asset, borrower)
}
