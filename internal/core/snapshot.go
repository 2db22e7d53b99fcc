package core

import (
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
)

// SnapshotState is the complete in-memory state at one sequence. The
// persistence layer serialises it; restoring it and replaying later
// commands reproduces the same hash chain.
type SnapshotState struct {
	Sequence  int64 // last processed sequence
	StateHash [32]byte

	Vessels        []*state.Vessel
	Redistribution map[string]state.RedistributionState
	StabilityPools map[string]state.StabilityPoolState
	Deposits       []*state.Deposit
	Pools          map[string]state.AssetPools
	Surplus        []state.SurplusClaim
	Balances       []token.Balance
	Prices         map[string]state.PriceState
	Params         []state.CollateralParams

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	vessels := c.vessels.GetAllVessels()
	vesselCopies := make([]*state.Vessel, 0, len(vessels))
	for _, v := range vessels {
		cp := *v
		vesselCopies = append(vesselCopies, &cp)
	}
	deposits := c.stabilityPool.GetAllDeposits()
	depositCopies := make([]*state.Deposit, 0, len(deposits))
	for _, d := range deposits {
		cp := *d
		depositCopies = append(depositCopies, &cp)
	}
	params := make([]state.CollateralParams, 0)
	for _, asset := range c.params.Assets() {
		p, _ := c.params.Get(asset)
		params = append(params, *p)
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.Tip(),
		Vessels:         vesselCopies,
		Redistribution:  c.vessels.GetAllRedistributionStates(),
		StabilityPools:  c.stabilityPool.GetAllStates(),
		Deposits:        depositCopies,
		Pools:           c.pools.GetAllAssets(),
		Surplus:         c.pools.GetAllSurplus(),
		Balances:        c.tokens.Balances(),
		Prices:          c.prices.GetAllPrices(),
		Params:          params,
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot loads a snapshot into an empty core. Commands after
// snap.Sequence are then replayed through ProcessEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1
	c.hasher.Reset(snap.StateHash)

	for i := range snap.Params {
		p := snap.Params[i]
		if err := c.params.Update(&p); err != nil {
			return err
		}
	}
	for asset, ps := range snap.Prices {
		c.prices.RestorePrice(asset, ps)
	}
	for asset, ap := range snap.Pools {
		c.pools.RestoreAsset(asset, ap)
	}
	for _, claim := range snap.Surplus {
		c.pools.RestoreSurplus(claim)
	}
	for asset, rs := range snap.Redistribution {
		c.vessels.RestoreRedistribution(asset, rs)
	}
	for _, v := range snap.Vessels {
		cp := *v
		c.vessels.RestoreVessel(&cp)
	}
	for asset, sp := range snap.StabilityPools {
		c.stabilityPool.RestoreState(asset, sp)
	}
	for _, d := range snap.Deposits {
		cp := *d
		c.stabilityPool.RestoreDeposit(&cp)
	}
	for _, b := range snap.Balances {
		c.tokens.Restore(b)
	}
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.Restore(partition, nextSeq)
	}
	c.WarmLRU(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent composite idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
