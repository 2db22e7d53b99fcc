package event

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// Liquidate liquidates a single Vessel. Liquidator receives the gas
// compensation.
type Liquidate struct {
	Header
	Asset      string
	Borrower   uuid.UUID
	Liquidator uuid.UUID
}

func (l *Liquidate) EventType() EventType { return EventTypeLiquidate }

func (l *Liquidate) AssetID() *string { return assetRef(l.Asset) }

// LiquidateVessels liquidates up to MaxVessels Vessels from the lowest
// nominal ratio upwards.
type LiquidateVessels struct {
	Header
	Asset      string
	MaxVessels int
	Liquidator uuid.UUID
}

func (l *LiquidateVessels) EventType() EventType { return EventTypeLiquidateVessels }

func (l *LiquidateVessels) AssetID() *string { return assetRef(l.Asset) }

// RedeemCollateral exchanges Amount debt tokens for collateral at face
// value, drawn from the riskiest Vessels first.
type RedeemCollateral struct {
	Header
	Asset         string
	Redeemer      uuid.UUID
	Amount        fpmath.Amount
	MaxIterations int // zero means unbounded
}

func (r *RedeemCollateral) EventType() EventType { return EventTypeRedeemCollateral }

func (r *RedeemCollateral) AssetID() *string { return assetRef(r.Asset) }
