package state

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// VesselStatus is the lifecycle state of a Vessel
type VesselStatus int32

const (
	VesselStatusNonexistent VesselStatus = iota
	VesselStatusActive
	VesselStatusClosedByOwner
	VesselStatusClosedByLiquidation
	VesselStatusClosedByRedemption
)

func (s VesselStatus) String() string {
	switch s {
	case VesselStatusNonexistent:
		return "Nonexistent"
	case VesselStatusActive:
		return "Active"
	case VesselStatusClosedByOwner:
		return "ClosedByOwner"
	case VesselStatusClosedByLiquidation:
		return "ClosedByLiquidation"
	case VesselStatusClosedByRedemption:
		return "ClosedByRedemption"
	default:
		return "Unknown"
	}
}

// IsClosed reports whether the status is one of the Closed* variants.
func (s VesselStatus) IsClosed() bool {
	return s == VesselStatusClosedByOwner ||
		s == VesselStatusClosedByLiquidation ||
		s == VesselStatusClosedByRedemption
}

// CanTransitionTo validates status transitions. A closed Vessel can be
// reopened by its owner; it then starts from a fresh stake and snapshot.
func (s VesselStatus) CanTransitionTo(next VesselStatus) bool {
	switch s {
	case VesselStatusNonexistent:
		return next == VesselStatusActive
	case VesselStatusActive:
		return next.IsClosed()
	default:
		return s.IsClosed() && next == VesselStatusActive
	}
}

// VesselKey identifies a Vessel: one per (asset, borrower) pair.
type VesselKey struct {
	Asset    string
	Borrower uuid.UUID
}

// RewardSnapshot holds L_coll / L_debt as of the last settlement.
type RewardSnapshot struct {
	LColl fpmath.Amount
	LDebt fpmath.Amount
}

// Vessel is a borrower's collateralized debt position for one asset.
// Collateral and Debt exclude pending redistribution rewards until the
// Vessel is settled.
type Vessel struct {
	Asset          string
	Borrower       uuid.UUID
	Collateral     fpmath.Amount
	Debt           fpmath.Amount
	Stake          fpmath.Amount
	Status         VesselStatus
	RewardSnapshot RewardSnapshot
	Version        int64
}

func (v *Vessel) Key() VesselKey {
	return VesselKey{Asset: v.Asset, Borrower: v.Borrower}
}

func (v *Vessel) IsActive() bool {
	return v.Status == VesselStatusActive
}
