package state

import (
	fpmath "VesselLedger/internal/math"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrVesselNotActive     = errors.New("vessel is not active")
	ErrVesselAlreadyActive = errors.New("vessel is already active")
)

// VesselManager owns the Vessel records and the per-asset redistribution
// accumulators. Every mutation of a Vessel must be preceded by
// ApplyPendingRewards on that Vessel.
type VesselManager struct {
	vessels        map[VesselKey]*Vessel
	redistribution map[string]*RedistributionState
	pools          *Pools
	sorted         *SortedVessels
}

func NewVesselManager(pools *Pools, sorted *SortedVessels) *VesselManager {
	return &VesselManager{
		vessels:        make(map[VesselKey]*Vessel),
		redistribution: make(map[string]*RedistributionState),
		pools:          pools,
		sorted:         sorted,
	}
}

// Redistribution returns the accumulator of an asset, creating it on first use.
func (vm *VesselManager) Redistribution(asset string) *RedistributionState {
	rs, ok := vm.redistribution[asset]
	if !ok {
		rs = NewRedistributionState()
		vm.redistribution[asset] = rs
	}
	return rs
}

// GetVessel returns the Vessel or nil.
func (vm *VesselManager) GetVessel(asset string, borrower uuid.UUID) *Vessel {
	return vm.vessels[VesselKey{Asset: asset, Borrower: borrower}]
}

// GetStatus returns Nonexistent for unknown Vessels.
func (vm *VesselManager) GetStatus(asset string, borrower uuid.UUID) VesselStatus {
	v := vm.GetVessel(asset, borrower)
	if v == nil {
		return VesselStatusNonexistent
	}
	return v.Status
}

// RequireActive returns an active Vessel or ErrVesselNotActive.
func (vm *VesselManager) RequireActive(asset string, borrower uuid.UUID) (*Vessel, error) {
	v := vm.GetVessel(asset, borrower)
	if v == nil || !v.IsActive() {
		return nil, fmt.Errorf("%w: asset=%s borrower=%s", ErrVesselNotActive, asset, borrower)
	}
	return v, nil
}

// OpenVessel activates a Vessel with the given collateral and debt, derives
// its stake and snapshots the accumulators. Pool balances are the caller's
// concern.
func (vm *VesselManager) OpenVessel(asset string, borrower uuid.UUID, coll, debt fpmath.Amount) (*Vessel, error) {
	key := VesselKey{Asset: asset, Borrower: borrower}
	v, exists := vm.vessels[key]
	if !exists {
		v = &Vessel{Asset: asset, Borrower: borrower, Status: VesselStatusNonexistent}
	}
	if !v.Status.CanTransitionTo(VesselStatusActive) {
		return nil, fmt.Errorf("%w: asset=%s borrower=%s", ErrVesselAlreadyActive, asset, borrower)
	}

	rs := vm.Redistribution(asset)
	v.Collateral = coll
	v.Debt = debt
	v.Stake = fpmath.Amount{}
	v.Status = VesselStatusActive
	v.RewardSnapshot = rs.Snapshot()
	v.Version++
	vm.vessels[key] = v

	vm.UpdateStakeAndTotalStakes(v)
	vm.sorted.Insert(asset, borrower, fpmath.ComputeNominalCR(coll, debt))
	return v, nil
}

// Redistribute spreads coll and debt over every other active Vessel of the
// asset and parks the amounts in the DefaultPool.
func (vm *VesselManager) Redistribute(asset string, coll, debt fpmath.Amount) {
	if coll.IsZero() && debt.IsZero() {
		return
	}
	vm.Redistribution(asset).Redistribute(coll, debt)
	vm.pools.MoveActiveToDefault(asset, coll, debt)
}

// ApplyPendingRewards materialises a Vessel's share of past redistributions,
// moves it from the DefaultPool to the ActivePool and refreshes the
// snapshot. A second call without an intervening redistribution is a no-op.
func (vm *VesselManager) ApplyPendingRewards(asset string, borrower uuid.UUID) (SettledVessel, error) {
	v, err := vm.RequireActive(asset, borrower)
	if err != nil {
		return SettledVessel{}, err
	}

	settled := settleVessel(vm.Redistribution(asset), v)
	hasPending := !settled.PendingColl.IsZero() || !settled.PendingDebt.IsZero()

	v.Collateral = settled.Collateral
	v.Debt = settled.Debt
	v.RewardSnapshot = settled.Snapshot
	if hasPending {
		v.Version++
		vm.pools.MoveDefaultToActive(asset, settled.PendingColl, settled.PendingDebt)
		vm.sorted.ReInsert(asset, borrower, fpmath.ComputeNominalCR(v.Collateral, v.Debt))
	}
	return settled, nil
}

// GetEntireDebtAndColl reports a Vessel's values including pending rewards
// without mutating anything.
func (vm *VesselManager) GetEntireDebtAndColl(asset string, borrower uuid.UUID) (SettledVessel, error) {
	v, err := vm.RequireActive(asset, borrower)
	if err != nil {
		return SettledVessel{}, err
	}
	return settleVessel(vm.Redistribution(asset), v), nil
}

// GetPendingCollateralReward returns the unapplied collateral reward; zero
// for unknown or closed Vessels.
func (vm *VesselManager) GetPendingCollateralReward(asset string, borrower uuid.UUID) fpmath.Amount {
	v := vm.GetVessel(asset, borrower)
	if v == nil {
		return fpmath.Amount{}
	}
	return settleVessel(vm.Redistribution(asset), v).PendingColl
}

// GetPendingDebtReward returns the unapplied debt reward.
func (vm *VesselManager) GetPendingDebtReward(asset string, borrower uuid.UUID) fpmath.Amount {
	v := vm.GetVessel(asset, borrower)
	if v == nil {
		return fpmath.Amount{}
	}
	return settleVessel(vm.Redistribution(asset), v).PendingDebt
}

// SetCollAndDebt replaces a settled Vessel's collateral and debt, re-derives
// its stake and repositions it in the sorted index.
func (vm *VesselManager) SetCollAndDebt(asset string, borrower uuid.UUID, coll, debt fpmath.Amount) (*Vessel, error) {
	v, err := vm.RequireActive(asset, borrower)
	if err != nil {
		return nil, err
	}
	vm.requireSettled(v)

	v.Collateral = coll
	v.Debt = debt
	v.Version++
	vm.UpdateStakeAndTotalStakes(v)
	vm.sorted.ReInsert(asset, borrower, fpmath.ComputeNominalCR(coll, debt))
	return v, nil
}

// requireSettled enforces settle-then-mutate.
func (vm *VesselManager) requireSettled(v *Vessel) {
	current := vm.Redistribution(v.Asset).Snapshot()
	if !v.RewardSnapshot.LColl.Eq(&current.LColl) || !v.RewardSnapshot.LDebt.Eq(&current.LDebt) {
		panic(fmt.Sprintf("FATAL: mutation of unsettled vessel %s/%s", v.Asset, v.Borrower))
	}
}

// UpdateStakeAndTotalStakes re-derives a Vessel's stake from its current
// collateral and applies the difference to TotalStakes.
func (vm *VesselManager) UpdateStakeAndTotalStakes(v *Vessel) fpmath.Amount {
	rs := vm.Redistribution(v.Asset)
	newStake := rs.ComputeNewStake(v.Collateral)
	rs.ReplaceStake(v.Stake, newStake)
	v.Stake = newStake
	return newStake
}

// RemoveStake takes a Vessel's stake out of TotalStakes.
func (vm *VesselManager) RemoveStake(v *Vessel) {
	rs := vm.Redistribution(v.Asset)
	rs.ReplaceStake(v.Stake, fpmath.Amount{})
	v.Stake = fpmath.Amount{}
}

// CloseVessel zeroes a Vessel, removes its stake and drops it from the
// sorted index. status must be one of the Closed* variants.
func (vm *VesselManager) CloseVessel(asset string, borrower uuid.UUID, status VesselStatus) error {
	v, err := vm.RequireActive(asset, borrower)
	if err != nil {
		return err
	}
	if !v.Status.CanTransitionTo(status) {
		panic(fmt.Sprintf("FATAL: invalid vessel transition %s -> %s", v.Status, status))
	}

	vm.RemoveStake(v)
	v.Status = status
	v.Collateral = fpmath.Amount{}
	v.Debt = fpmath.Amount{}
	v.RewardSnapshot = RewardSnapshot{}
	v.Version++
	vm.sorted.Remove(asset, borrower)
	return nil
}

// UpdateSystemSnapshotsExcludeCollRemainder records the stake/collateral
// ratio after a liquidation batch. collRemainder is the collateral gas
// compensation still sitting in the ActivePool.
func (vm *VesselManager) UpdateSystemSnapshotsExcludeCollRemainder(asset string, collRemainder fpmath.Amount) {
	ap := vm.pools.Asset(asset)
	totalColl := fpmath.Add(fpmath.Sub(ap.ActiveColl, collRemainder), ap.DefaultColl)
	vm.Redistribution(asset).UpdateSystemSnapshots(totalColl)
}

// GetAllVessels returns every known Vessel in deterministic order.
func (vm *VesselManager) GetAllVessels() []*Vessel {
	out := make([]*Vessel, 0, len(vm.vessels))
	for _, v := range vm.vessels {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Borrower.String() < out[j].Borrower.String()
	})
	return out
}

// GetAllRedistributionStates returns a copy of every asset accumulator.
func (vm *VesselManager) GetAllRedistributionStates() map[string]RedistributionState {
	out := make(map[string]RedistributionState, len(vm.redistribution))
	for asset, rs := range vm.redistribution {
		out[asset] = *rs
	}
	return out
}

// RestoreVessel installs a Vessel from a snapshot; active Vessels are
// re-indexed.
func (vm *VesselManager) RestoreVessel(v *Vessel) {
	vm.vessels[v.Key()] = v
	if v.IsActive() {
		vm.sorted.Remove(v.Asset, v.Borrower)
		vm.sorted.Insert(v.Asset, v.Borrower, fpmath.ComputeNominalCR(v.Collateral, v.Debt))
	}
}

// RestoreRedistribution installs an asset accumulator from a snapshot.
func (vm *VesselManager) RestoreRedistribution(asset string, rs RedistributionState) {
	restored := rs
	vm.redistribution[asset] = &restored
}
