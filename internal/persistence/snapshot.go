package persistence

import (
	"VesselLedger/internal/core"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON form of core.SnapshotState. Amounts are decimal
// strings; the accumulator sums are flattened into sorted lists.
type SnapshotData struct {
	Sequence        int64                  `json:"sequence"`
	StateHash       string                 `json:"state_hash"`
	Vessels         []VesselSnap           `json:"vessels"`
	Redistribution  []RedistributionSnap   `json:"redistribution"`
	StabilityPools  []StabilityPoolSnap    `json:"stability_pools"`
	Deposits        []DepositSnap          `json:"deposits"`
	Pools           []PoolsSnap            `json:"pools"`
	Surplus         []SurplusSnap          `json:"surplus"`
	Balances        []BalanceSnap          `json:"balances"`
	Prices          []PriceSnap            `json:"prices"`
	Params          []CollateralParamsSnap `json:"params"`
	SequenceState   map[string]int64       `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string               `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time              `json:"created_at"`
}

type VesselSnap struct {
	Asset      string `json:"asset"`
	Borrower   string `json:"borrower"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Stake      string `json:"stake"`
	Status     int32  `json:"status"`
	LColl      string `json:"l_coll"`
	LDebt      string `json:"l_debt"`
	Version    int64  `json:"version"`
}

type RedistributionSnap struct {
	Asset                   string `json:"asset"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
	LColl                   string `json:"l_coll"`
	LDebt                   string `json:"l_debt"`
	LastCollError           string `json:"last_coll_error"`
	LastDebtError           string `json:"last_debt_error"`
}

type SumSnap struct {
	Epoch uint64 `json:"epoch"`
	Scale uint64 `json:"scale"`
	Value string `json:"value"`
}

type StabilityPoolSnap struct {
	Asset             string    `json:"asset"`
	TotalDeposits     string    `json:"total_deposits"`
	P                 string    `json:"p"`
	CurrentScale      uint64    `json:"current_scale"`
	CurrentEpoch      uint64    `json:"current_epoch"`
	S                 []SumSnap `json:"s"`
	G                 []SumSnap `json:"g"`
	LastCollGainError string    `json:"last_coll_gain_error"`
	LastDebtLossError string    `json:"last_debt_loss_error"`
	LastRewardError   string    `json:"last_reward_error"`
}

type DepositSnap struct {
	Asset        string `json:"asset"`
	Depositor    string `json:"depositor"`
	InitialValue string `json:"initial_value"`
	P            string `json:"p"`
	S            string `json:"s"`
	G            string `json:"g"`
	Epoch        uint64 `json:"epoch"`
	Scale        uint64 `json:"scale"`
	Version      int64  `json:"version"`
}

type PoolsSnap struct {
	Asset             string `json:"asset"`
	ActiveColl        string `json:"active_coll"`
	ActiveDebt        string `json:"active_debt"`
	DefaultColl       string `json:"default_coll"`
	DefaultDebt       string `json:"default_debt"`
	StabilityPoolColl string `json:"stability_pool_coll"`
	CollSurplus       string `json:"coll_surplus"`
}

type SurplusSnap struct {
	Asset    string `json:"asset"`
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type BalanceSnap struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type PriceSnap struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	Timestamp     int64  `json:"timestamp"`
}

type CollateralParamsSnap struct {
	Asset                    string `json:"asset"`
	Active                   bool   `json:"active"`
	MCR                      string `json:"mcr"`
	CCR                      string `json:"ccr"`
	DebtTokenGasCompensation string `json:"debt_token_gas_compensation"`
	MinNetDebt               string `json:"min_net_debt"`
	MintCap                  string `json:"mint_cap"`
	PercentDivisor           uint64 `json:"percent_divisor"`
	BorrowingFeeBps          uint64 `json:"borrowing_fee_bps"`
	RedemptionFeeBps         uint64 `json:"redemption_fee_bps"`
	EffectiveSeq             int64  `json:"effective_seq"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

func str(a fpmath.Amount) string { return a.Dec() }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeSums(m map[state.EpochScale]fpmath.Amount) []SumSnap {
	out := make([]SumSnap, 0, len(m))
	for _, k := range state.SortedEpochScales(m) {
		out = append(out, SumSnap{Epoch: k.Epoch, Scale: k.Scale, Value: str(m[k])})
	}
	return out
}

// NewSnapshotData converts the core's in-memory snapshot into its stored
// form. Map-backed sections are emitted in sorted order so equal states
// produce identical bytes.
func NewSnapshotData(s *core.SnapshotState) *SnapshotData {
	d := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       hex.EncodeToString(s.StateHash[:]),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}

	for _, v := range s.Vessels {
		d.Vessels = append(d.Vessels, VesselSnap{
			Asset:      v.Asset,
			Borrower:   v.Borrower.String(),
			Collateral: str(v.Collateral),
			Debt:       str(v.Debt),
			Stake:      str(v.Stake),
			Status:     int32(v.Status),
			LColl:      str(v.RewardSnapshot.LColl),
			LDebt:      str(v.RewardSnapshot.LDebt),
			Version:    v.Version,
		})
	}
	for _, asset := range sortedKeys(s.Redistribution) {
		rs := s.Redistribution[asset]
		d.Redistribution = append(d.Redistribution, RedistributionSnap{
			Asset:                   asset,
			TotalStakes:             str(rs.TotalStakes),
			TotalStakesSnapshot:     str(rs.TotalStakesSnapshot),
			TotalCollateralSnapshot: str(rs.TotalCollateralSnapshot),
			LColl:                   str(rs.LColl),
			LDebt:                   str(rs.LDebt),
			LastCollError:           str(rs.LastCollError),
			LastDebtError:           str(rs.LastDebtError),
		})
	}
	for _, asset := range sortedKeys(s.StabilityPools) {
		sp := s.StabilityPools[asset]
		d.StabilityPools = append(d.StabilityPools, StabilityPoolSnap{
			Asset:             asset,
			TotalDeposits:     str(sp.TotalDeposits),
			P:                 str(sp.P),
			CurrentScale:      sp.CurrentScale,
			CurrentEpoch:      sp.CurrentEpoch,
			S:                 encodeSums(sp.S),
			G:                 encodeSums(sp.G),
			LastCollGainError: str(sp.LastCollGainError),
			LastDebtLossError: str(sp.LastDebtLossError),
			LastRewardError:   str(sp.LastRewardError),
		})
	}
	for _, dep := range s.Deposits {
		d.Deposits = append(d.Deposits, DepositSnap{
			Asset:        dep.Asset,
			Depositor:    dep.Depositor.String(),
			InitialValue: str(dep.InitialValue),
			P:            str(dep.Snapshot.P),
			S:            str(dep.Snapshot.S),
			G:            str(dep.Snapshot.G),
			Epoch:        dep.Snapshot.Epoch,
			Scale:        dep.Snapshot.Scale,
			Version:      dep.Version,
		})
	}
	for _, asset := range sortedKeys(s.Pools) {
		p := s.Pools[asset]
		d.Pools = append(d.Pools, PoolsSnap{
			Asset:             asset,
			ActiveColl:        str(p.ActiveColl),
			ActiveDebt:        str(p.ActiveDebt),
			DefaultColl:       str(p.DefaultColl),
			DefaultDebt:       str(p.DefaultDebt),
			StabilityPoolColl: str(p.StabilityPoolColl),
			CollSurplus:       str(p.CollSurplus),
		})
	}
	for _, c := range s.Surplus {
		d.Surplus = append(d.Surplus, SurplusSnap{Asset: c.Asset, Borrower: c.Borrower.String(), Amount: str(c.Amount)})
	}
	for _, b := range s.Balances {
		d.Balances = append(d.Balances, BalanceSnap{Token: b.Token, Account: b.Account.String(), Amount: str(b.Amount)})
	}
	for _, asset := range sortedKeys(s.Prices) {
		p := s.Prices[asset]
		d.Prices = append(d.Prices, PriceSnap{Asset: asset, Price: str(p.Price), PriceSequence: p.PriceSequence, Timestamp: p.Timestamp})
	}
	for _, p := range s.Params {
		d.Params = append(d.Params, CollateralParamsSnap{
			Asset:                    p.Asset,
			Active:                   p.Active,
			MCR:                      str(p.MCR),
			CCR:                      str(p.CCR),
			DebtTokenGasCompensation: str(p.DebtTokenGasCompensation),
			MinNetDebt:               str(p.MinNetDebt),
			MintCap:                  str(p.MintCap),
			PercentDivisor:           p.PercentDivisor,
			BorrowingFeeBps:          p.BorrowingFeeBps,
			RedemptionFeeBps:         p.RedemptionFeeBps,
			EffectiveSeq:             p.EffectiveSeq,
		})
	}
	return d
}

// decoder collects the first parse error so the conversion below reads
// as a flat list of assignments.
type decoder struct{ err error }

func (dec *decoder) amount(field, s string) fpmath.Amount {
	if dec.err != nil {
		return fpmath.Amount{}
	}
	a, err := fpmath.ParseAmount(s)
	if err != nil {
		dec.err = fmt.Errorf("%s: %w", field, err)
	}
	return a
}

func (dec *decoder) uuid(field, s string) uuid.UUID {
	if dec.err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		dec.err = fmt.Errorf("%s: %w", field, err)
	}
	return id
}

func (dec *decoder) sums(field string, list []SumSnap) map[state.EpochScale]fpmath.Amount {
	m := make(map[state.EpochScale]fpmath.Amount, len(list))
	for _, s := range list {
		m[state.EpochScale{Epoch: s.Epoch, Scale: s.Scale}] = dec.amount(field, s.Value)
	}
	return m
}

// ToCoreState converts stored snapshot data back into core.SnapshotState.
func (d *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	var dec decoder
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Redistribution:  make(map[string]state.RedistributionState),
		StabilityPools:  make(map[string]state.StabilityPoolState),
		Pools:           make(map[string]state.AssetPools),
		Prices:          make(map[string]state.PriceState),
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}

	hash, err := hex.DecodeString(d.StateHash)
	if err != nil || len(hash) != len(s.StateHash) {
		return nil, fmt.Errorf("invalid state hash %q", d.StateHash)
	}
	copy(s.StateHash[:], hash)

	for _, v := range d.Vessels {
		s.Vessels = append(s.Vessels, &state.Vessel{
			Asset:      v.Asset,
			Borrower:   dec.uuid("vessel.borrower", v.Borrower),
			Collateral: dec.amount("vessel.collateral", v.Collateral),
			Debt:       dec.amount("vessel.debt", v.Debt),
			Stake:      dec.amount("vessel.stake", v.Stake),
			Status:     state.VesselStatus(v.Status),
			RewardSnapshot: state.RewardSnapshot{
				LColl: dec.amount("vessel.l_coll", v.LColl),
				LDebt: dec.amount("vessel.l_debt", v.LDebt),
			},
			Version: v.Version,
		})
	}
	for _, r := range d.Redistribution {
		s.Redistribution[r.Asset] = state.RedistributionState{
			TotalStakes:             dec.amount("redistribution.total_stakes", r.TotalStakes),
			TotalStakesSnapshot:     dec.amount("redistribution.total_stakes_snapshot", r.TotalStakesSnapshot),
			TotalCollateralSnapshot: dec.amount("redistribution.total_collateral_snapshot", r.TotalCollateralSnapshot),
			LColl:                   dec.amount("redistribution.l_coll", r.LColl),
			LDebt:                   dec.amount("redistribution.l_debt", r.LDebt),
			LastCollError:           dec.amount("redistribution.last_coll_error", r.LastCollError),
			LastDebtError:           dec.amount("redistribution.last_debt_error", r.LastDebtError),
		}
	}
	for _, sp := range d.StabilityPools {
		s.StabilityPools[sp.Asset] = state.StabilityPoolState{
			TotalDeposits:     dec.amount("sp.total_deposits", sp.TotalDeposits),
			P:                 dec.amount("sp.p", sp.P),
			CurrentScale:      sp.CurrentScale,
			CurrentEpoch:      sp.CurrentEpoch,
			S:                 dec.sums("sp.s", sp.S),
			G:                 dec.sums("sp.g", sp.G),
			LastCollGainError: dec.amount("sp.last_coll_gain_error", sp.LastCollGainError),
			LastDebtLossError: dec.amount("sp.last_debt_loss_error", sp.LastDebtLossError),
			LastRewardError:   dec.amount("sp.last_reward_error", sp.LastRewardError),
		}
	}
	for _, dep := range d.Deposits {
		s.Deposits = append(s.Deposits, &state.Deposit{
			Asset:        dep.Asset,
			Depositor:    dec.uuid("deposit.depositor", dep.Depositor),
			InitialValue: dec.amount("deposit.initial_value", dep.InitialValue),
			Snapshot: state.DepositSnapshot{
				P:     dec.amount("deposit.p", dep.P),
				S:     dec.amount("deposit.s", dep.S),
				G:     dec.amount("deposit.g", dep.G),
				Epoch: dep.Epoch,
				Scale: dep.Scale,
			},
			Version: dep.Version,
		})
	}
	for _, p := range d.Pools {
		s.Pools[p.Asset] = state.AssetPools{
			ActiveColl:        dec.amount("pools.active_coll", p.ActiveColl),
			ActiveDebt:        dec.amount("pools.active_debt", p.ActiveDebt),
			DefaultColl:       dec.amount("pools.default_coll", p.DefaultColl),
			DefaultDebt:       dec.amount("pools.default_debt", p.DefaultDebt),
			StabilityPoolColl: dec.amount("pools.stability_pool_coll", p.StabilityPoolColl),
			CollSurplus:       dec.amount("pools.coll_surplus", p.CollSurplus),
		}
	}
	for _, c := range d.Surplus {
		s.Surplus = append(s.Surplus, state.SurplusClaim{
			Asset:    c.Asset,
			Borrower: dec.uuid("surplus.borrower", c.Borrower),
			Amount:   dec.amount("surplus.amount", c.Amount),
		})
	}
	for _, b := range d.Balances {
		s.Balances = append(s.Balances, token.Balance{
			Token:   b.Token,
			Account: token.Account(b.Account),
			Amount:  dec.amount("balance.amount", b.Amount),
		})
	}
	for _, p := range d.Prices {
		s.Prices[p.Asset] = state.PriceState{
			Price:         dec.amount("price.price", p.Price),
			PriceSequence: p.PriceSequence,
			Timestamp:     p.Timestamp,
		}
	}
	for _, p := range d.Params {
		s.Params = append(s.Params, state.CollateralParams{
			Asset:                    p.Asset,
			Active:                   p.Active,
			MCR:                      dec.amount("params.mcr", p.MCR),
			CCR:                      dec.amount("params.ccr", p.CCR),
			DebtTokenGasCompensation: dec.amount("params.gas_compensation", p.DebtTokenGasCompensation),
			MinNetDebt:               dec.amount("params.min_net_debt", p.MinNetDebt),
			MintCap:                  dec.amount("params.mint_cap", p.MintCap),
			PercentDivisor:           p.PercentDivisor,
			BorrowingFeeBps:          p.BorrowingFeeBps,
			RedemptionFeeBps:         p.RedemptionFeeBps,
			EffectiveSeq:             p.EffectiveSeq,
		})
	}

	if dec.err != nil {
		return nil, fmt.Errorf("decode snapshot at seq %d: %w", d.Sequence, dec.err)
	}
	return s, nil
}

// SaveSnapshot persists a snapshot to Postgres. It starts unverified; the
// caller marks it verified once a replay from it reproduces the same hash.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return sizeBytes, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil, nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads envelopes from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload, rejected, reject_reason,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset, &e.Payload, &e.Rejected, &e.RejectReason,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
