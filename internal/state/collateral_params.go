package state

import (
	fpmath "VesselLedger/internal/math"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownCollateral  = errors.New("unknown collateral asset")
	ErrCollateralInactive = errors.New("collateral asset is not active")
)

// CollateralParams are the per-asset protocol parameters.
type CollateralParams struct {
	Asset  string
	Active bool

	MCR fpmath.Amount // minimum collateral ratio, 1e18 = 100%
	CCR fpmath.Amount // critical system ratio; TCR below it is recovery mode

	DebtTokenGasCompensation fpmath.Amount // reserved in the GasPool per Vessel
	MinNetDebt               fpmath.Amount
	MintCap                  fpmath.Amount // zero means uncapped

	PercentDivisor   uint64 // collateral gas compensation = coll / PercentDivisor
	BorrowingFeeBps  uint64
	RedemptionFeeBps uint64

	EffectiveSeq int64
}

// DefaultCollateralParams returns the protocol defaults for a new asset.
func DefaultCollateralParams(asset string) *CollateralParams {
	return &CollateralParams{
		Asset:                    asset,
		Active:                   true,
		MCR:                      fpmath.MustParseAmount("1100000000000000000"), // 110%
		CCR:                      fpmath.MustParseAmount("1500000000000000000"), // 150%
		DebtTokenGasCompensation: fpmath.Units(200),
		MinNetDebt:               fpmath.Units(1_800),
		PercentDivisor:           200, // 0.5%
		BorrowingFeeBps:          50,
		RedemptionFeeBps:         50,
	}
}

// ValidateCollateralParams checks parameter ranges: MCR > 100%, CCR >= MCR,
// percent divisor > 0 and fee rates below 100%.
func ValidateCollateralParams(p *CollateralParams) error {
	if p.Asset == "" {
		return fmt.Errorf("asset must not be empty")
	}
	if !p.MCR.Gt(&fpmath.DecimalPrecision) {
		return fmt.Errorf("mcr must be > 1.0, got %s", fpmath.Format(p.MCR))
	}
	if p.CCR.Lt(&p.MCR) {
		return fmt.Errorf("ccr (%s) must be >= mcr (%s)", fpmath.Format(p.CCR), fpmath.Format(p.MCR))
	}
	if p.PercentDivisor == 0 {
		return fmt.Errorf("percent_divisor must be > 0")
	}
	if p.BorrowingFeeBps >= fpmath.BasisPoints {
		return fmt.Errorf("borrowing_fee_bps must be < %d, got %d", fpmath.BasisPoints, p.BorrowingFeeBps)
	}
	if p.RedemptionFeeBps >= fpmath.BasisPoints {
		return fmt.Errorf("redemption_fee_bps must be < %d, got %d", fpmath.BasisPoints, p.RedemptionFeeBps)
	}
	return nil
}

// CollateralParamsManager holds the parameters of every collateral asset.
type CollateralParamsManager struct {
	params map[string]*CollateralParams
}

func NewCollateralParamsManager() *CollateralParamsManager {
	return &CollateralParamsManager{params: make(map[string]*CollateralParams)}
}

func (m *CollateralParamsManager) Get(asset string) (*CollateralParams, bool) {
	p, ok := m.params[asset]
	return p, ok
}

// RequireActive returns the params of an asset that accepts new positions.
func (m *CollateralParamsManager) RequireActive(asset string) (*CollateralParams, error) {
	p, ok := m.params[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateral, asset)
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrCollateralInactive, asset)
	}
	return p, nil
}

// Require returns the params of a known asset, active or not.
func (m *CollateralParamsManager) Require(asset string) (*CollateralParams, error) {
	p, ok := m.params[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateral, asset)
	}
	return p, nil
}

func (m *CollateralParamsManager) Update(p *CollateralParams) error {
	if err := ValidateCollateralParams(p); err != nil {
		return fmt.Errorf("invalid collateral params for %s: %w", p.Asset, err)
	}
	m.params[p.Asset] = p
	return nil
}

// Assets returns the configured assets in sorted order.
func (m *CollateralParamsManager) Assets() []string {
	assets := make([]string, 0, len(m.params))
	for asset := range m.params {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}
