package core

import (
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
)

// assetContext bundles what every Vessel operation on an asset reads first.
type assetContext struct {
	asset  string
	params *state.CollateralParams
	price  fpmath.Amount
}

func (c *DeterministicCore) loadAsset(asset string, requireActive bool) (*assetContext, error) {
	var (
		params *state.CollateralParams
		err    error
	)
	if requireActive {
		params, err = c.params.RequireActive(asset)
	} else {
		params, err = c.params.Require(asset)
	}
	if err != nil {
		return nil, err
	}
	price, err := c.prices.GetPrice(asset)
	if err != nil {
		return nil, err
	}
	return &assetContext{asset: asset, params: params, price: price}, nil
}

// getTCR returns the total collateral ratio of an asset: entire system
// collateral over entire system debt, pending rewards included.
func (c *DeterministicCore) getTCR(asset string, price fpmath.Amount) fpmath.Amount {
	return fpmath.ComputeCR(c.pools.EntireSystemColl(asset), c.pools.EntireSystemDebt(asset), price)
}

// checkRecoveryMode reports whether the asset's TCR is below CCR.
func (c *DeterministicCore) checkRecoveryMode(ac *assetContext) bool {
	tcr := c.getTCR(ac.asset, ac.price)
	return tcr.Lt(&ac.params.CCR)
}

// newTCR is the TCR after adding (or removing) collateral and debt.
func (c *DeterministicCore) newTCR(ac *assetContext, collIn, collOut, debtIn, debtOut fpmath.Amount) fpmath.Amount {
	coll := fpmath.Sub(fpmath.Add(c.pools.EntireSystemColl(ac.asset), collIn), collOut)
	debt := fpmath.Sub(fpmath.Add(c.pools.EntireSystemDebt(ac.asset), debtIn), debtOut)
	return fpmath.ComputeCR(coll, debt, ac.price)
}

// requireMintCap fails when minting extra debt would push the asset's
// entire system debt past its mint cap. A zero cap is unlimited.
func (c *DeterministicCore) requireMintCap(ac *assetContext, extra fpmath.Amount) error {
	if ac.params.MintCap.IsZero() {
		return nil
	}
	total := fpmath.Add(c.pools.EntireSystemDebt(ac.asset), extra)
	if total.Gt(&ac.params.MintCap) {
		return ErrMintCapExceeded
	}
	return nil
}
