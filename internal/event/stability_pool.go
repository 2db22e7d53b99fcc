package event

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// ProvideToSP deposits debt tokens into an asset's Stability Pool.
type ProvideToSP struct {
	Header
	Asset     string
	Depositor uuid.UUID
	Amount    fpmath.Amount
}

func (p *ProvideToSP) EventType() EventType { return EventTypeProvideToSP }

func (p *ProvideToSP) AssetID() *string { return assetRef(p.Asset) }

// WithdrawFromSP withdraws up to Amount of the compounded deposit. Zero
// only claims the accrued gains.
type WithdrawFromSP struct {
	Header
	Asset     string
	Depositor uuid.UUID
	Amount    fpmath.Amount
}

func (w *WithdrawFromSP) EventType() EventType { return EventTypeWithdrawFromSP }

func (w *WithdrawFromSP) AssetID() *string { return assetRef(w.Asset) }

// RewardIssuance distributes newly issued reward tokens to an asset's
// depositors.
type RewardIssuance struct {
	Header
	Asset  string
	Amount fpmath.Amount
}

func (r *RewardIssuance) EventType() EventType { return EventTypeRewardIssuance }

func (r *RewardIssuance) AssetID() *string { return assetRef(r.Asset) }
