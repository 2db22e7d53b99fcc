package event

import (
	fpmath "VesselLedger/internal/math"
	"fmt"
	"time"
)

// PriceUpdate carries an oracle price for a collateral asset, in debt-token
// units per unit of collateral.
type PriceUpdate struct {
	Asset         string
	Price         fpmath.Amount
	PriceSequence int64 // Monotonic per asset; gaps tolerated
	Timestamp     time.Time
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) AssetID() *string {
	return assetRef(p.Asset)
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *PriceUpdate) EventTime() time.Time {
	return p.Timestamp
}

// CollateralParamUpdate installs or replaces the parameters of a collateral
// asset. It shares the asset's sequence partition with Vessel commands.
type CollateralParamUpdate struct {
	Asset  string
	Active bool

	MCR                      fpmath.Amount
	CCR                      fpmath.Amount
	DebtTokenGasCompensation fpmath.Amount
	MinNetDebt               fpmath.Amount
	MintCap                  fpmath.Amount

	PercentDivisor   uint64
	BorrowingFeeBps  uint64
	RedemptionFeeBps uint64

	EffectiveSeq int64
	Sequence     int64
	Timestamp    time.Time
}

func (c *CollateralParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("collateral_param:%s:%d", c.Asset, c.EffectiveSeq)
}

func (c *CollateralParamUpdate) EventType() EventType {
	return EventTypeCollateralParamUpdate
}

func (c *CollateralParamUpdate) AssetID() *string {
	return assetRef(c.Asset)
}

func (c *CollateralParamUpdate) SourceSequence() int64 {
	return c.Sequence
}

func (c *CollateralParamUpdate) EventTime() time.Time {
	return c.Timestamp
}
