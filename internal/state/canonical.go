package state

import (
	fpmath "VesselLedger/internal/math"
)

// Canonical encodings feed the state hash chain. Every field is written in
// a fixed order: amounts as 32 big-endian bytes, integers as 8
// little-endian bytes and strings length-prefixed.

func AppendAmount(buf []byte, a fpmath.Amount) []byte {
	b := a.Bytes32()
	return append(buf, b[:]...)
}

func AppendInt64LE(buf []byte, v int64) []byte {
	return AppendUint64LE(buf, uint64(v))
}

func AppendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func AppendString(buf []byte, s string) []byte {
	buf = AppendUint64LE(buf, uint64(len(s)))
	return append(buf, s...)
}

// CanonicalBytes encodes the Vessel's recorded state.
func (v *Vessel) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, 'V')
	buf = AppendString(buf, v.Asset)
	buf = append(buf, v.Borrower[:]...)
	buf = AppendAmount(buf, v.Collateral)
	buf = AppendAmount(buf, v.Debt)
	buf = AppendAmount(buf, v.Stake)
	buf = AppendInt64LE(buf, int64(v.Status))
	buf = AppendAmount(buf, v.RewardSnapshot.LColl)
	buf = AppendAmount(buf, v.RewardSnapshot.LDebt)
	return buf
}

// CanonicalBytes encodes a deposit and its snapshot.
func (d *Deposit) CanonicalBytes() []byte {
	buf := make([]byte, 0, 224)
	buf = append(buf, 'D')
	buf = AppendString(buf, d.Asset)
	buf = append(buf, d.Depositor[:]...)
	buf = AppendAmount(buf, d.InitialValue)
	buf = AppendAmount(buf, d.Snapshot.P)
	buf = AppendAmount(buf, d.Snapshot.S)
	buf = AppendAmount(buf, d.Snapshot.G)
	buf = AppendUint64LE(buf, d.Snapshot.Epoch)
	buf = AppendUint64LE(buf, d.Snapshot.Scale)
	return buf
}

// CanonicalBytes encodes the redistribution accumulator.
func (rs *RedistributionState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 7*32+1)
	buf = append(buf, 'R')
	buf = AppendAmount(buf, rs.TotalStakes)
	buf = AppendAmount(buf, rs.TotalStakesSnapshot)
	buf = AppendAmount(buf, rs.TotalCollateralSnapshot)
	buf = AppendAmount(buf, rs.LColl)
	buf = AppendAmount(buf, rs.LDebt)
	buf = AppendAmount(buf, rs.LastCollError)
	buf = AppendAmount(buf, rs.LastDebtError)
	return buf
}

// CanonicalBytes encodes the Stability Pool accumulator with every S and G
// bucket in (epoch, scale) order.
func (sp *StabilityPoolState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 8*32+17)
	buf = append(buf, 'S')
	buf = AppendAmount(buf, sp.TotalDeposits)
	buf = AppendAmount(buf, sp.P)
	buf = AppendUint64LE(buf, sp.CurrentEpoch)
	buf = AppendUint64LE(buf, sp.CurrentScale)
	for _, es := range SortedEpochScales(sp.S) {
		buf = append(buf, 's')
		buf = AppendUint64LE(buf, es.Epoch)
		buf = AppendUint64LE(buf, es.Scale)
		buf = AppendAmount(buf, sp.S[es])
	}
	for _, es := range SortedEpochScales(sp.G) {
		buf = append(buf, 'g')
		buf = AppendUint64LE(buf, es.Epoch)
		buf = AppendUint64LE(buf, es.Scale)
		buf = AppendAmount(buf, sp.G[es])
	}
	buf = AppendAmount(buf, sp.LastCollGainError)
	buf = AppendAmount(buf, sp.LastDebtLossError)
	buf = AppendAmount(buf, sp.LastRewardError)
	return buf
}

// CanonicalBytes encodes an asset's pool balances.
func (ap *AssetPools) CanonicalBytes() []byte {
	buf := make([]byte, 0, 6*32+1)
	buf = append(buf, 'P')
	buf = AppendAmount(buf, ap.ActiveColl)
	buf = AppendAmount(buf, ap.ActiveDebt)
	buf = AppendAmount(buf, ap.DefaultColl)
	buf = AppendAmount(buf, ap.DefaultDebt)
	buf = AppendAmount(buf, ap.StabilityPoolColl)
	buf = AppendAmount(buf, ap.CollSurplus)
	return buf
}
