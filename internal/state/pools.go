package state

import (
	fpmath "VesselLedger/internal/math"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var ErrNoCollateralToClaim = errors.New("no collateral available to claim")

// AssetPools holds the protocol's per-asset pool balances.
//
//   - Active: collateral and debt of active Vessels (recorded amounts).
//   - Default: redistributed amounts not yet applied to any Vessel.
//   - StabilityPoolColl: liquidated collateral owed to depositors.
//   - CollSurplus: collateral owed back to borrowers after capped
//     liquidations and full redemptions.
type AssetPools struct {
	ActiveColl        fpmath.Amount
	ActiveDebt        fpmath.Amount
	DefaultColl       fpmath.Amount
	DefaultDebt       fpmath.Amount
	StabilityPoolColl fpmath.Amount
	CollSurplus       fpmath.Amount
}

// Pools tracks AssetPools for every collateral asset plus the per-borrower
// surplus claims.
type Pools struct {
	assets  map[string]*AssetPools
	surplus map[VesselKey]fpmath.Amount
}

func NewPools() *Pools {
	return &Pools{
		assets:  make(map[string]*AssetPools),
		surplus: make(map[VesselKey]fpmath.Amount),
	}
}

// Asset returns the pools of an asset, creating empty ones on first use.
func (p *Pools) Asset(asset string) *AssetPools {
	ap, ok := p.assets[asset]
	if !ok {
		ap = &AssetPools{}
		p.assets[asset] = ap
	}
	return ap
}

// EntireSystemColl is active plus default collateral.
func (p *Pools) EntireSystemColl(asset string) fpmath.Amount {
	ap := p.Asset(asset)
	return fpmath.Add(ap.ActiveColl, ap.DefaultColl)
}

// EntireSystemDebt is active plus default debt.
func (p *Pools) EntireSystemDebt(asset string) fpmath.Amount {
	ap := p.Asset(asset)
	return fpmath.Add(ap.ActiveDebt, ap.DefaultDebt)
}

func (p *Pools) IncreaseActive(asset string, coll, debt fpmath.Amount) {
	ap := p.Asset(asset)
	ap.ActiveColl = fpmath.Add(ap.ActiveColl, coll)
	ap.ActiveDebt = fpmath.Add(ap.ActiveDebt, debt)
}

func (p *Pools) DecreaseActive(asset string, coll, debt fpmath.Amount) {
	ap := p.Asset(asset)
	ap.ActiveColl = fpmath.Sub(ap.ActiveColl, coll)
	ap.ActiveDebt = fpmath.Sub(ap.ActiveDebt, debt)
}

// MoveActiveToDefault parks redistributed collateral and debt in the
// DefaultPool until the receiving Vessels are settled.
func (p *Pools) MoveActiveToDefault(asset string, coll, debt fpmath.Amount) {
	ap := p.Asset(asset)
	ap.ActiveColl = fpmath.Sub(ap.ActiveColl, coll)
	ap.ActiveDebt = fpmath.Sub(ap.ActiveDebt, debt)
	ap.DefaultColl = fpmath.Add(ap.DefaultColl, coll)
	ap.DefaultDebt = fpmath.Add(ap.DefaultDebt, debt)
}

// MoveDefaultToActive moves a settled Vessel's pending rewards back.
func (p *Pools) MoveDefaultToActive(asset string, coll, debt fpmath.Amount) {
	ap := p.Asset(asset)
	ap.DefaultColl = fpmath.Sub(ap.DefaultColl, coll)
	ap.DefaultDebt = fpmath.Sub(ap.DefaultDebt, debt)
	ap.ActiveColl = fpmath.Add(ap.ActiveColl, coll)
	ap.ActiveDebt = fpmath.Add(ap.ActiveDebt, debt)
}

// MoveActiveToStabilityPool transfers offset collateral and cancels the
// offset debt.
func (p *Pools) MoveActiveToStabilityPool(asset string, coll, debt fpmath.Amount) {
	ap := p.Asset(asset)
	ap.ActiveColl = fpmath.Sub(ap.ActiveColl, coll)
	ap.ActiveDebt = fpmath.Sub(ap.ActiveDebt, debt)
	ap.StabilityPoolColl = fpmath.Add(ap.StabilityPoolColl, coll)
}

// SendStabilityPoolColl pays a depositor's collateral gain out of the pool.
func (p *Pools) SendStabilityPoolColl(asset string, amount fpmath.Amount) {
	ap := p.Asset(asset)
	ap.StabilityPoolColl = fpmath.Sub(ap.StabilityPoolColl, amount)
}

// AccountSurplus moves collateral from the ActivePool into the borrower's
// surplus claim.
func (p *Pools) AccountSurplus(asset string, borrower uuid.UUID, amount fpmath.Amount) {
	if amount.IsZero() {
		return
	}
	ap := p.Asset(asset)
	ap.ActiveColl = fpmath.Sub(ap.ActiveColl, amount)
	ap.CollSurplus = fpmath.Add(ap.CollSurplus, amount)

	key := VesselKey{Asset: asset, Borrower: borrower}
	p.surplus[key] = fpmath.Add(p.surplus[key], amount)
}

// Surplus returns a borrower's claimable collateral.
func (p *Pools) Surplus(asset string, borrower uuid.UUID) fpmath.Amount {
	return p.surplus[VesselKey{Asset: asset, Borrower: borrower}]
}

// ClaimSurplus clears and returns a borrower's claimable collateral.
func (p *Pools) ClaimSurplus(asset string, borrower uuid.UUID) (fpmath.Amount, error) {
	key := VesselKey{Asset: asset, Borrower: borrower}
	amount, ok := p.surplus[key]
	if !ok || amount.IsZero() {
		return fpmath.Amount{}, fmt.Errorf("%w: asset=%s borrower=%s", ErrNoCollateralToClaim, asset, borrower)
	}
	ap := p.Asset(asset)
	ap.CollSurplus = fpmath.Sub(ap.CollSurplus, amount)
	delete(p.surplus, key)
	return amount, nil
}

// SurplusClaim is one borrower's claimable collateral.
type SurplusClaim struct {
	Asset    string
	Borrower uuid.UUID
	Amount   fpmath.Amount
}

// GetAllAssets returns a copy of every asset's pools.
func (p *Pools) GetAllAssets() map[string]AssetPools {
	out := make(map[string]AssetPools, len(p.assets))
	for asset, ap := range p.assets {
		out[asset] = *ap
	}
	return out
}

// GetAllSurplus returns every open surplus claim in deterministic order.
func (p *Pools) GetAllSurplus() []SurplusClaim {
	claims := make([]SurplusClaim, 0, len(p.surplus))
	for key, amount := range p.surplus {
		claims = append(claims, SurplusClaim{Asset: key.Asset, Borrower: key.Borrower, Amount: amount})
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Asset != claims[j].Asset {
			return claims[i].Asset < claims[j].Asset
		}
		return claims[i].Borrower.String() < claims[j].Borrower.String()
	})
	return claims
}

// RestoreAsset overwrites an asset's pools (snapshot restore).
func (p *Pools) RestoreAsset(asset string, ap AssetPools) {
	restored := ap
	p.assets[asset] = &restored
}

// RestoreSurplus overwrites one surplus claim (snapshot restore).
func (p *Pools) RestoreSurplus(claim SurplusClaim) {
	p.surplus[VesselKey{Asset: claim.Asset, Borrower: claim.Borrower}] = claim.Amount
}
