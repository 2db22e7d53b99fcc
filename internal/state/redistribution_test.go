package state_test

import (
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testAsset = "WETH"

func units(n uint64) fpmath.Amount { return fpmath.Units(n) }

func wei(n uint64) fpmath.Amount { return fpmath.NewAmount(n) }

func newVesselManager() (*state.VesselManager, *state.Pools, *state.SortedVessels) {
	pools := state.NewPools()
	sorted := state.NewSortedVessels()
	return state.NewVesselManager(pools, sorted), pools, sorted
}

// openVessel opens a Vessel and books its balances into the ActivePool.
func openVessel(t *testing.T, vm *state.VesselManager, pools *state.Pools, coll, debt fpmath.Amount) uuid.UUID {
	t.Helper()
	borrower := uuid.New()
	_, err := vm.OpenVessel(testAsset, borrower, coll, debt)
	require.NoError(t, err)
	pools.IncreaseActive(testAsset, coll, debt)
	return borrower
}

// liquidateByRedistribution closes a Vessel and spreads its full balance.
func liquidateByRedistribution(t *testing.T, vm *state.VesselManager, borrower uuid.UUID) (fpmath.Amount, fpmath.Amount) {
	t.Helper()
	settled, err := vm.ApplyPendingRewards(testAsset, borrower)
	require.NoError(t, err)
	require.NoError(t, vm.CloseVessel(testAsset, borrower, state.VesselStatusClosedByLiquidation))
	vm.Redistribute(testAsset, settled.Collateral, settled.Debt)
	return settled.Collateral, settled.Debt
}

func TestRedistributeCarriesRemainder(t *testing.T) {
	rs := state.NewRedistributionState()
	rs.ReplaceStake(fpmath.Amount{}, units(3))

	rs.Redistribute(units(1), units(2))

	// 1e36 / 3e18 = 333333333333333333 rem 1e18
	require.Equal(t, "333333333333333333", rs.LColl.Dec())
	requireAmount(t, units(1), rs.LastCollError)
	require.Equal(t, "666666666666666666", rs.LDebt.Dec())
	requireAmount(t, units(2), rs.LastDebtError)

	rs.Redistribute(units(1), fpmath.Amount{})
	// (1e36 + 1e18) / 3e18 = 333333333333333333 rem 2e18
	require.Equal(t, "666666666666666666", rs.LColl.Dec())
	requireAmount(t, units(2), rs.LastCollError)
}

func TestRedistributeZeroIsNoop(t *testing.T) {
	rs := state.NewRedistributionState()
	require.NotPanics(t, func() { rs.Redistribute(fpmath.Amount{}, fpmath.Amount{}) })
	require.True(t, rs.LColl.IsZero())
}

func TestRedistributeWithoutStakesPanics(t *testing.T) {
	rs := state.NewRedistributionState()
	require.Panics(t, func() { rs.Redistribute(units(1), units(1)) })
}

func TestRedistributionDriftStaysBounded(t *testing.T) {
	rs := state.NewRedistributionState()
	stakes := make([]fpmath.Amount, 10)
	for i := range stakes {
		stakes[i] = fpmath.Add(units(uint64(i+1)), wei(uint64(7*i+3)))
		rs.ReplaceStake(fpmath.Amount{}, stakes[i])
	}

	var totalColl, totalDebt fpmath.Amount
	for i := 0; i < 1_000; i++ {
		coll := fpmath.Add(wei(333_333_333_333_333), wei(uint64(i)))
		debt := fpmath.Add(wei(1_000_000_000_000_007), wei(uint64(i*13)))
		rs.Redistribute(coll, debt)
		totalColl = fpmath.Add(totalColl, coll)
		totalDebt = fpmath.Add(totalDebt, debt)
	}

	var sumColl, sumDebt fpmath.Amount
	for _, stake := range stakes {
		c, d := rs.PendingRewards(stake, state.RewardSnapshot{})
		sumColl = fpmath.Add(sumColl, c)
		sumDebt = fpmath.Add(sumDebt, d)
	}

	require.True(t, sumColl.Cmp(&totalColl) <= 0, "pending collateral exceeds pooled amount")
	require.True(t, sumDebt.Cmp(&totalDebt) <= 0, "pending debt exceeds pooled amount")
	// One wei per stake from flooring plus the carried remainder.
	wholeStakes := fpmath.Div(rs.TotalStakes, fpmath.DecimalPrecision)
	bound := uint64(len(stakes)) + wholeStakes.Uint64() + 1
	collDrift := fpmath.Sub(totalColl, sumColl)
	debtDrift := fpmath.Sub(totalDebt, sumDebt)
	require.LessOrEqual(t, collDrift.Uint64(), bound)
	require.LessOrEqual(t, debtDrift.Uint64(), bound)
}

func TestApplyPendingRewardsIsIdempotent(t *testing.T) {
	vm, pools, _ := newVesselManager()
	a := openVessel(t, vm, pools, units(10), units(1_000))
	b := openVessel(t, vm, pools, units(20), units(1_000))
	c := openVessel(t, vm, pools, units(5), units(900))

	liquidateByRedistribution(t, vm, c)

	first, err := vm.ApplyPendingRewards(testAsset, a)
	require.NoError(t, err)
	require.False(t, first.PendingColl.IsZero())
	before := *vm.GetVessel(testAsset, a)

	second, err := vm.ApplyPendingRewards(testAsset, a)
	require.NoError(t, err)
	require.True(t, second.PendingColl.IsZero())
	require.True(t, second.PendingDebt.IsZero())
	require.Equal(t, before, *vm.GetVessel(testAsset, a))

	// b still holds its pending share until it is touched.
	require.NotZero(t, vm.GetPendingCollateralReward(testAsset, b))
	require.NotZero(t, vm.GetPendingDebtReward(testAsset, b))
}

func TestRedistributionSplitsByStake(t *testing.T) {
	vm, pools, _ := newVesselManager()
	a := openVessel(t, vm, pools, units(10), units(1_000))
	b := openVessel(t, vm, pools, units(30), units(1_000))
	c := openVessel(t, vm, pools, units(4), units(2_000))

	liquidateByRedistribution(t, vm, c)

	requireAmount(t, units(1), vm.GetPendingCollateralReward(testAsset, a))
	requireAmount(t, units(3), vm.GetPendingCollateralReward(testAsset, b))
	requireAmount(t, units(500), vm.GetPendingDebtReward(testAsset, a))
	requireAmount(t, units(1_500), vm.GetPendingDebtReward(testAsset, b))

	ap := pools.Asset(testAsset)
	requireAmount(t, units(4), ap.DefaultColl)
	requireAmount(t, units(2_000), ap.DefaultDebt)

	_, err := vm.ApplyPendingRewards(testAsset, a)
	require.NoError(t, err)
	requireAmount(t, units(11), vm.GetVessel(testAsset, a).Collateral)
	requireAmount(t, units(3), ap.DefaultColl)
	requireAmount(t, units(1_500), ap.DefaultDebt)
}

// addColl settles a Vessel and raises its collateral by topUp, the way a
// collateral top-up through borrower operations does.
func addColl(t *testing.T, vm *state.VesselManager, pools *state.Pools, borrower uuid.UUID, topUp fpmath.Amount) {
	t.Helper()
	settled, err := vm.ApplyPendingRewards(testAsset, borrower)
	require.NoError(t, err)
	_, err = vm.SetCollAndDebt(testAsset, borrower, fpmath.Add(settled.Collateral, topUp), settled.Debt)
	require.NoError(t, err)
	pools.IncreaseActive(testAsset, topUp, fpmath.Amount{})
}

// Eleven Vessels of 1 ether and 170 debt units each. One is liquidated by
// redistribution, keeping 0.5% of its collateral as gas compensation, and
// each of the other ten then adds 1 ether. The DefaultPool keeps dust only.
func TestDefaultPoolDustAfterAddColl(t *testing.T) {
	vm, pools, _ := newVesselManager()
	borrowers := make([]uuid.UUID, 11)
	for i := range borrowers {
		borrowers[i] = openVessel(t, vm, pools, units(1), units(170))
	}

	settled, err := vm.ApplyPendingRewards(testAsset, borrowers[0])
	require.NoError(t, err)
	require.NoError(t, vm.CloseVessel(testAsset, borrowers[0], state.VesselStatusClosedByLiquidation))
	collGasComp := fpmath.ApplyBps(settled.Collateral, 50)
	vm.Redistribute(testAsset, fpmath.Sub(settled.Collateral, collGasComp), settled.Debt)
	vm.UpdateSystemSnapshotsExcludeCollRemainder(testAsset, collGasComp)
	pools.DecreaseActive(testAsset, collGasComp, fpmath.Amount{})

	for _, b := range borrowers[1:] {
		addColl(t, vm, pools, b, units(1))
	}

	for _, b := range borrowers[1:] {
		require.Zero(t, vm.GetPendingCollateralReward(testAsset, b))
		require.Zero(t, vm.GetPendingDebtReward(testAsset, b))
		requireAmount(t, units(170+17), vm.GetVessel(testAsset, b).Debt)
	}
	ap := pools.Asset(testAsset)
	require.True(t, ap.DefaultColl.IsUint64())
	require.True(t, ap.DefaultDebt.IsUint64())
	require.LessOrEqual(t, ap.DefaultColl.Uint64(), uint64(10))
	require.LessOrEqual(t, ap.DefaultDebt.Uint64(), uint64(10))
}

// Same shape as TestDefaultPoolDustAfterAddColl but with uneven collateral,
// so every share leaves a remainder behind in the accumulators.
func TestDefaultPoolDustAfterUnevenTopUps(t *testing.T) {
	vm, pools, _ := newVesselManager()
	borrowers := make([]uuid.UUID, 11)
	for i := range borrowers {
		coll := fpmath.Add(units(1), wei(uint64(i)*1_000_000_000_000_000+uint64(7*i)))
		borrowers[i] = openVessel(t, vm, pools, coll, units(170))
	}

	coll, _ := liquidateByRedistribution(t, vm, borrowers[0])
	require.NotZero(t, coll)

	for _, b := range borrowers[1:] {
		addColl(t, vm, pools, b, units(1))
	}

	ap := pools.Asset(testAsset)
	require.True(t, ap.DefaultColl.IsUint64())
	require.LessOrEqual(t, ap.DefaultColl.Uint64(), uint64(25))
	require.LessOrEqual(t, ap.DefaultDebt.Uint64(), uint64(25))
}

func TestStakeUsesSystemSnapshots(t *testing.T) {
	vm, pools, _ := newVesselManager()
	a := openVessel(t, vm, pools, units(10), units(1_000))
	openVessel(t, vm, pools, units(10), units(1_000))
	c := openVessel(t, vm, pools, units(10), units(1_000))
	requireAmount(t, units(10), vm.GetVessel(testAsset, a).Stake)

	liquidateByRedistribution(t, vm, c)
	vm.UpdateSystemSnapshotsExcludeCollRemainder(testAsset, fpmath.Amount{})

	rs := vm.Redistribution(testAsset)
	requireAmount(t, units(20), rs.TotalStakesSnapshot)
	requireAmount(t, units(30), rs.TotalCollateralSnapshot)

	// 15 coll against a 20:30 stake ratio yields a stake of 10.
	d := openVessel(t, vm, pools, units(15), units(1_000))
	requireAmount(t, units(10), vm.GetVessel(testAsset, d).Stake)
	requireAmount(t, units(30), rs.TotalStakes)
}

func TestSetCollAndDebtRequiresSettlement(t *testing.T) {
	vm, pools, _ := newVesselManager()
	a := openVessel(t, vm, pools, units(10), units(1_000))
	openVessel(t, vm, pools, units(10), units(1_000))
	c := openVessel(t, vm, pools, units(10), units(1_000))
	liquidateByRedistribution(t, vm, c)

	require.Panics(t, func() {
		_, _ = vm.SetCollAndDebt(testAsset, a, units(11), units(1_000))
	})
}

func TestCloseVesselLifecycle(t *testing.T) {
	vm, pools, sorted := newVesselManager()
	a := openVessel(t, vm, pools, units(10), units(1_000))
	require.True(t, sorted.Contains(testAsset, a))

	require.NoError(t, vm.CloseVessel(testAsset, a, state.VesselStatusClosedByOwner))
	v := vm.GetVessel(testAsset, a)
	require.Equal(t, state.VesselStatusClosedByOwner, v.Status)
	require.True(t, v.Stake.IsZero())
	require.Zero(t, vm.Redistribution(testAsset).TotalStakes)
	require.False(t, sorted.Contains(testAsset, a))
	require.Zero(t, vm.GetPendingCollateralReward(testAsset, a))

	err := vm.CloseVessel(testAsset, a, state.VesselStatusClosedByOwner)
	require.ErrorIs(t, err, state.ErrVesselNotActive)

	// A closed Vessel may be reopened.
	_, err = vm.OpenVessel(testAsset, a, units(5), units(500))
	require.NoError(t, err)
	_, err = vm.OpenVessel(testAsset, a, units(5), units(500))
	require.ErrorIs(t, err, state.ErrVesselAlreadyActive)
}
