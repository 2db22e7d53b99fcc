package event

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// OpenVessel locks Collateral from the borrower's wallet and mints
// DebtAmount debt tokens to it. Fees and gas compensation are added on top.
type OpenVessel struct {
	Header
	Asset      string
	Borrower   uuid.UUID
	Collateral fpmath.Amount
	DebtAmount fpmath.Amount
}

func (o *OpenVessel) EventType() EventType { return EventTypeOpenVessel }

func (o *OpenVessel) AssetID() *string { return assetRef(o.Asset) }

// AdjustVessel tops up or withdraws collateral and draws or repays debt in
// one step. At most one of CollTopUp and CollWithdrawal may be non-zero.
type AdjustVessel struct {
	Header
	Asset          string
	Borrower       uuid.UUID
	CollTopUp      fpmath.Amount
	CollWithdrawal fpmath.Amount
	DebtChange     fpmath.Amount
	IsDebtIncrease bool
}

func (a *AdjustVessel) EventType() EventType { return EventTypeAdjustVessel }

func (a *AdjustVessel) AssetID() *string { return assetRef(a.Asset) }

// CloseVessel repays a Vessel in full and returns its collateral.
type CloseVessel struct {
	Header
	Asset    string
	Borrower uuid.UUID
}

func (c *CloseVessel) EventType() EventType { return EventTypeCloseVessel }

func (c *CloseVessel) AssetID() *string { return assetRef(c.Asset) }

// ClaimCollateral withdraws a borrower's surplus collateral.
type ClaimCollateral struct {
	Header
	Asset    string
	Borrower uuid.UUID
}

func (c *ClaimCollateral) EventType() EventType { return EventTypeClaimCollateral }

func (c *ClaimCollateral) AssetID() *string { return assetRef(c.Asset) }
