package query

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/observability"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const weth = "WETH"

// directReader runs closures inline; tests own the only goroutine.
type directReader struct{ c *core.DeterministicCore }

func (d directReader) Read(_ context.Context, fn func(*core.DeterministicCore)) error {
	fn(d.c)
	return nil
}

type fixture struct {
	qs      *QueryService
	c       *core.DeterministicCore
	metrics *observability.Metrics
	alice   uuid.UUID
	bob     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	persist := make(chan core.CoreOutput, 256)
	projection := make(chan core.CoreOutput, 256)
	c := core.NewDeterministicCore(core.DefaultConfig(), 0, persist, projection, nil, nil)

	f := &fixture{c: c, alice: uuid.New(), bob: uuid.New()}
	var assetSeq, globalSeq int64
	hdr := func(seq *int64) event.Header {
		h := event.Header{RequestID: uuid.New(), Sequence: *seq, Timestamp: time.UnixMicro(1 + *seq)}
		*seq++
		return h
	}
	p := state.DefaultCollateralParams(weth)
	u := fpmath.Units

	for _, evt := range []event.Event{
		&event.CollateralParamUpdate{Asset: weth, Active: true, MCR: p.MCR, CCR: p.CCR,
			DebtTokenGasCompensation: p.DebtTokenGasCompensation, MinNetDebt: p.MinNetDebt,
			PercentDivisor: p.PercentDivisor, BorrowingFeeBps: p.BorrowingFeeBps, RedemptionFeeBps: p.RedemptionFeeBps,
			EffectiveSeq: 1, Sequence: hdr(&assetSeq).Sequence, Timestamp: time.UnixMicro(1)},
		&event.PriceUpdate{Asset: weth, Price: u(2000), PriceSequence: 1, Timestamp: time.UnixMicro(2)},
		&event.DepositConfirmed{Header: hdr(&globalSeq), UserID: f.alice, Token: weth, Amount: u(100)},
		&event.DepositConfirmed{Header: hdr(&globalSeq), UserID: f.bob, Token: weth, Amount: u(10)},
		&event.OpenVessel{Header: hdr(&assetSeq), Asset: weth, Borrower: f.alice, Collateral: u(100), DebtAmount: u(10000)},
		&event.OpenVessel{Header: hdr(&assetSeq), Asset: weth, Borrower: f.bob, Collateral: u(10), DebtAmount: u(5000)},
		&event.ProvideToSP{Header: hdr(&assetSeq), Asset: weth, Depositor: f.alice, Amount: u(4000)},
	} {
		require.NoError(t, c.ProcessEvent(evt))
	}

	f.metrics = observability.NewMetrics(prometheus.NewRegistry())
	f.qs = NewQueryService(directReader{c}, nil, f.metrics)
	return f
}

// unitsDec renders n whole units in the wire format.
func unitsDec(n uint64) string {
	u := fpmath.Units(n)
	return u.Dec()
}

func TestGetVessel(t *testing.T) {
	f := newFixture(t)

	v, err := f.qs.GetVessel(context.Background(), weth, f.bob)
	require.NoError(t, err)
	require.Equal(t, "Active", v.Status)
	require.Equal(t, unitsDec(10), v.Collateral)
	// 5000 + 0.5% fee + 200 gas compensation
	require.Equal(t, unitsDec(5225), v.Debt)
	require.Equal(t, "0", v.Surplus)
	require.Equal(t, int64(6), v.AsOfSequence)
	require.NotEmpty(t, v.ICR)

	_, err = f.qs.GetVessel(context.Background(), weth, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1.0, promtest.ToFloat64(f.metrics.QueryRequests.WithLabelValues("get_vessel", "not_found")))
	require.Equal(t, 1.0, promtest.ToFloat64(f.metrics.QueryRequests.WithLabelValues("get_vessel", "ok")))
}

func TestListVessels_RiskiestFirst(t *testing.T) {
	f := newFixture(t)

	list, err := f.qs.ListVessels(context.Background(), weth, 10)
	require.NoError(t, err)
	require.Len(t, list.Vessels, 2)
	require.Equal(t, f.bob.String(), list.Vessels[0].Borrower)
	require.Equal(t, f.alice.String(), list.Vessels[1].Borrower)

	_, err = f.qs.ListVessels(context.Background(), weth, 0)
	require.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = f.qs.ListVessels(context.Background(), "WBTC", 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetDeposit(t *testing.T) {
	f := newFixture(t)

	d, err := f.qs.GetDeposit(context.Background(), weth, f.alice)
	require.NoError(t, err)
	require.Equal(t, unitsDec(4000), d.InitialValue)
	require.Equal(t, unitsDec(4000), d.Compounded)
	require.Equal(t, "0", d.CollateralGain)

	_, err = f.qs.GetDeposit(context.Background(), weth, f.bob)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetAccumulators(t *testing.T) {
	f := newFixture(t)

	acc, err := f.qs.GetAccumulators(context.Background(), weth)
	require.NoError(t, err)
	require.True(t, acc.Active)
	require.False(t, acc.RecoveryMode)
	require.Equal(t, unitsDec(110), acc.ActiveColl)
	require.Equal(t, unitsDec(4000), acc.StabilityPoolDeposits)
	require.Equal(t, fpmath.DecimalPrecision.Dec(), acc.P)
	require.Equal(t, 2, acc.ActiveVessels)
	require.Equal(t, "2000", acc.Price[:4])

	_, err = f.qs.GetAccumulators(context.Background(), "WBTC")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)

	b, err := f.qs.GetBalance(context.Background(), "GRAI", token.User(f.bob))
	require.NoError(t, err)
	require.Equal(t, unitsDec(5000), b.Balance)

	b, err = f.qs.GetBalance(context.Background(), "NOPE", token.User(f.bob))
	require.NoError(t, err)
	require.Equal(t, "0", b.Balance)
}

func TestHistory_WithoutStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.qs.GetLiquidationHistory(context.Background(), weth, 10, 0)
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	_, err = f.qs.GetRedemptionHistory(context.Background(), weth, 10, 0)
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	_, err = f.qs.VerifyIntegrity(context.Background())
	require.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestHistoryQuery_Cursor(t *testing.T) {
	q, args := historyQuery("SELECT 1 FROM t", weth, 0, 20)
	require.Equal(t, "SELECT 1 FROM t WHERE asset = $1 ORDER BY sequence DESC LIMIT $2", q)
	require.Equal(t, []interface{}{weth, 20}, args)

	q, args = historyQuery("SELECT 1 FROM t", weth, 99, 20)
	require.Equal(t, "SELECT 1 FROM t WHERE asset = $1 AND sequence < $2 ORDER BY sequence DESC LIMIT $3", q)
	require.Equal(t, []interface{}{weth, int64(99), 20}, args)

	require.Equal(t, int64(0), nextCursor(5, 20, nil))
	require.Equal(t, int64(42), nextCursor(20, 20, func() int64 { return 42 }))
}
