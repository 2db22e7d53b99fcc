package persistence

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/event"
	"VesselLedger/internal/ingestion"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const weth = "WETH"

// memLog is an in-memory event log ordered by sequence.
type memLog struct {
	rows []EventRow
	snap *SnapshotData
}

func (m *memLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]EventRow, error) {
	var out []EventRow
	for _, r := range m.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memLog) LoadLatestSnapshot(context.Context) (*SnapshotData, error) { return m.snap, nil }

func (m *memLog) SaveSnapshot(_ context.Context, snap *SnapshotData) (int, error) {
	m.snap = snap
	return 0, nil
}

func (m *memLog) MarkVerified(context.Context, int64) error { return nil }

func newCore() (*core.DeterministicCore, chan core.CoreOutput) {
	cfg := core.DefaultConfig()
	cfg.Encode = ingestion.EncodeEvent
	persist := make(chan core.CoreOutput, 1024)
	projection := make(chan core.CoreOutput, 1024)
	return core.NewDeterministicCore(cfg, 0, persist, projection, nil, nil), persist
}

// script returns a deterministic command list with one rejected command.
func script() []event.Event {
	n := 0
	id := func() uuid.UUID {
		n++
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte{byte(n)})
	}
	alice, bob, carol, keeper := id(), id(), id(), id()
	var assetSeq, globalSeq int64
	asset := func() event.Header {
		h := event.Header{RequestID: id(), Sequence: assetSeq, Timestamp: time.UnixMicro(10 + assetSeq)}
		assetSeq++
		return h
	}
	global := func() event.Header {
		h := event.Header{RequestID: id(), Sequence: globalSeq, Timestamp: time.UnixMicro(10 + globalSeq)}
		globalSeq++
		return h
	}
	p := state.DefaultCollateralParams(weth)
	u := fpmath.Units

	return []event.Event{
		&event.CollateralParamUpdate{Asset: weth, Active: true, MCR: p.MCR, CCR: p.CCR,
			DebtTokenGasCompensation: p.DebtTokenGasCompensation, MinNetDebt: p.MinNetDebt,
			PercentDivisor: p.PercentDivisor, BorrowingFeeBps: p.BorrowingFeeBps, RedemptionFeeBps: p.RedemptionFeeBps,
			EffectiveSeq: 1, Sequence: asset().Sequence, Timestamp: time.UnixMicro(1)},
		&event.PriceUpdate{Asset: weth, Price: u(2000), PriceSequence: 1, Timestamp: time.UnixMicro(2)},
		&event.DepositConfirmed{Header: global(), UserID: alice, Token: weth, Amount: u(100)},
		&event.DepositConfirmed{Header: global(), UserID: bob, Token: weth, Amount: u(3)},
		&event.DepositConfirmed{Header: global(), UserID: carol, Token: weth, Amount: u(1)},
		&event.OpenVessel{Header: asset(), Asset: weth, Borrower: alice, Collateral: u(100), DebtAmount: u(10000)},
		&event.ProvideToSP{Header: asset(), Asset: weth, Depositor: alice, Amount: u(5000)},
		&event.OpenVessel{Header: asset(), Asset: weth, Borrower: bob, Collateral: u(3), DebtAmount: u(4000)},
		// Net debt below the minimum: rejected but still sequenced.
		&event.OpenVessel{Header: asset(), Asset: weth, Borrower: carol, Collateral: u(1), DebtAmount: u(100)},
		&event.PriceUpdate{Asset: weth, Price: u(1500), PriceSequence: 2, Timestamp: time.UnixMicro(3)},
		&event.Liquidate{Header: asset(), Asset: weth, Borrower: bob, Liquidator: keeper},
		&event.RewardIssuance{Header: asset(), Asset: weth, Amount: u(50)},
		&event.WithdrawFromSP{Header: asset(), Asset: weth, Depositor: alice},
	}
}

// runScript applies commands and returns the rows the persistence worker
// would have written.
func runScript(t *testing.T, c *core.DeterministicCore, persist chan core.CoreOutput, cmds []event.Event) []EventRow {
	t.Helper()
	for _, evt := range cmds {
		if err := c.ProcessEvent(evt); err != nil {
			require.ErrorIs(t, err, core.ErrCommandRejected)
		}
	}
	var rows []EventRow
	for {
		select {
		case out := <-persist:
			rows = append(rows, NewEventRow(out.Envelope))
		default:
			return rows
		}
	}
}

func TestReplay_ReproducesStateHash(t *testing.T) {
	original, persist := newCore()
	rows := runScript(t, original, persist, script())
	require.Len(t, rows, len(script()))

	rejected := 0
	for _, r := range rows {
		if r.Rejected {
			rejected++
			require.NotEmpty(t, r.RejectReason)
		}
	}
	require.Equal(t, 1, rejected)

	replayed, _ := newCore()
	n, err := Replay(context.Background(), replayed, &memLog{rows: rows}, 0, 4)
	require.NoError(t, err)
	require.Equal(t, len(rows), n)
	require.Equal(t, original.GetStateHash(), replayed.GetStateHash())
	require.Equal(t, original.GetSequence(), replayed.GetSequence())
}

func TestReplay_DetectsTamperedHash(t *testing.T) {
	original, persist := newCore()
	rows := runScript(t, original, persist, script())

	rows[5].StateHash = make([]byte, 32)

	replayed, _ := newCore()
	n, err := Replay(context.Background(), replayed, &memLog{rows: rows}, 0, 100)
	require.ErrorIs(t, err, ErrReplayDiverged)
	require.Equal(t, 5, n)
}

func TestReplay_DetectsMissingRow(t *testing.T) {
	original, persist := newCore()
	rows := runScript(t, original, persist, script())
	rows = append(rows[:3], rows[4:]...)

	replayed, _ := newCore()
	_, err := Replay(context.Background(), replayed, &memLog{rows: rows}, 0, 100)
	require.ErrorIs(t, err, ErrReplayDiverged)
}

func TestRecovery_SnapshotPlusTail(t *testing.T) {
	cmds := script()
	split := 8

	original, persist := newCore()
	rows := runScript(t, original, persist, cmds[:split])

	// Round-trip through JSON as the snapshot table would.
	data, err := json.Marshal(NewSnapshotData(original.CreateSnapshotState()))
	require.NoError(t, err)
	var stored SnapshotData
	require.NoError(t, json.Unmarshal(data, &stored))

	rows = append(rows, runScript(t, original, persist, cmds[split:])...)

	log := &memLog{rows: rows, snap: &stored}
	recovered, _ := newCore()
	n, err := NewRecovery(log, 3, nil, zerolog.Nop()).Recover(context.Background(), recovered)
	require.NoError(t, err)
	require.Equal(t, len(cmds)-split, n)
	require.Equal(t, original.GetStateHash(), recovered.GetStateHash())

	want := original.CreateSnapshotState()
	got := recovered.CreateSnapshotState()
	require.Equal(t, want.Pools, got.Pools)
	require.Equal(t, want.StabilityPools, got.StabilityPools)
	require.Equal(t, want.Redistribution, got.Redistribution)
	require.Equal(t, want.Balances, got.Balances)
}

func TestSnapshotData_RoundTripPreservesAccumulators(t *testing.T) {
	c, persist := newCore()
	runScript(t, c, persist, script())
	want := c.CreateSnapshotState()

	got, err := NewSnapshotData(want).ToCoreState()
	require.NoError(t, err)

	require.Equal(t, want.Sequence, got.Sequence)
	require.Equal(t, want.StateHash, got.StateHash)
	require.Equal(t, want.StabilityPools, got.StabilityPools)
	require.Equal(t, want.Redistribution, got.Redistribution)
	require.Equal(t, want.Prices, got.Prices)
	require.Equal(t, want.Params, got.Params)
	require.Len(t, got.Vessels, len(want.Vessels))
	for i := range want.Vessels {
		require.Equal(t, *want.Vessels[i], *got.Vessels[i])
	}
	require.Len(t, got.Deposits, len(want.Deposits))
	for i := range want.Deposits {
		require.Equal(t, *want.Deposits[i], *got.Deposits[i])
	}
}

func TestSnapshotData_RejectsBadAmount(t *testing.T) {
	c, persist := newCore()
	runScript(t, c, persist, script()[:6])

	d := NewSnapshotData(c.CreateSnapshotState())
	require.NotEmpty(t, d.Vessels)
	d.Vessels[0].Debt = "12.5"

	_, err := d.ToCoreState()
	require.Error(t, err)
	require.Contains(t, err.Error(), "vessel.debt")
}

func TestBuildEventInsert_Placeholders(t *testing.T) {
	asset := weth
	rows := []EventRow{
		{Sequence: 0, EventType: "PriceUpdate", Asset: &asset, StateHash: []byte{1}, PrevHash: []byte{0}},
		{Sequence: 1, EventType: "TokenTransfer", Payload: []byte(`{"a":1}`), StateHash: []byte{2}, PrevHash: []byte{1}},
	}
	query, args := buildEventInsert(rows)

	require.Len(t, args, 2*eventColumns)
	require.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")
	require.Contains(t, query, "($12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)")
	require.True(t, strings.HasSuffix(query, "ON CONFLICT DO NOTHING"))
	require.Equal(t, []byte("{}"), args[4], "nil payload stored as empty object")
}

func TestEventRow_Publishable(t *testing.T) {
	row := EventRow{Sequence: 7, EventType: "Liquidate", StateHash: []byte{0xab, 0xcd}}
	p := row.Publishable()
	require.Equal(t, "abcd", p.StateHash)
	require.Equal(t, "vessel.ledger.events.Liquidate", p.Subject())
}

func TestMigrator_PairsFilesByVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql", "000002_projections.down.sql",
		"000001_event_log.up.sql", "000001_event_log.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	m := NewMigrator(nil, dir, zerolog.Nop())
	migrations, err := m.scan()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "000001", migrations[0].version)
	require.Equal(t, "000001_event_log.down.sql", migrations[0].down)
	require.Equal(t, "000002_projections.up.sql", migrations[1].up)

	require.NoError(t, os.Remove(filepath.Join(dir, "000002_projections.down.sql")))
	_, err = m.scan()
	require.ErrorContains(t, err, "000002")
}
