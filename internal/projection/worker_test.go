package projection

import (
	"VesselLedger/internal/core"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []interface{}
}

type recordingExecer struct {
	calls []execCall
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	r.calls = append(r.calls, execCall{query: query, args: args})
	return nil, nil
}

func TestUpsertVessel_WritesWeiStrings(t *testing.T) {
	rec := &recordingExecer{}
	v := &state.Vessel{
		Asset:      "WETH",
		Borrower:   uuid.New(),
		Collateral: fpmath.Units(10),
		Debt:       fpmath.MustParseAmount("5225000000000000000000"),
		Stake:      fpmath.Units(10),
		Status:     state.VesselStatusActive,
		Version:    3,
	}

	require.NoError(t, UpsertVessel(context.Background(), rec, 42, v))
	require.Len(t, rec.calls, 1)

	call := rec.calls[0]
	require.Contains(t, call.query, "projections.vessels")
	require.Contains(t, call.query, "last_sequence <= EXCLUDED.last_sequence")
	require.Equal(t, "10000000000000000000", call.args[2])
	require.Equal(t, "5225000000000000000000", call.args[3])
	require.Equal(t, "Active", call.args[5])
	require.Equal(t, int64(42), call.args[9])
}

func TestUpsertBalance_UsesAccountString(t *testing.T) {
	rec := &recordingExecer{}
	b := token.Balance{Token: "GRAI", Account: token.AccountStabilityPool, Amount: fpmath.Units(1)}

	require.NoError(t, UpsertBalance(context.Background(), rec, 7, b))
	require.Equal(t, "GRAI", rec.calls[0].args[0])
	require.Equal(t, token.AccountStabilityPool.String(), rec.calls[0].args[1])
	require.Equal(t, "1000000000000000000", rec.calls[0].args[2])
}

func TestInsertRedemption_EncodesLots(t *testing.T) {
	rec := &recordingExecer{}
	borrower := uuid.New()
	r := &core.RedemptionRecord{
		Asset:         "WETH",
		Redeemer:      uuid.New(),
		Price:         fpmath.Units(2000),
		Requested:     fpmath.Units(1000),
		DebtRedeemed:  fpmath.Units(1000),
		CollRedeemed:  fpmath.MustParseAmount("500000000000000000"),
		CollFee:       fpmath.MustParseAmount("2500000000000000"),
		VesselsClosed: 1,
		Lots:          []core.RedemptionLot{{Borrower: borrower, Debt: fpmath.Units(1000), Coll: fpmath.MustParseAmount("500000000000000000"), Closed: true}},
	}

	require.NoError(t, InsertRedemption(context.Background(), rec, 9, time.UnixMicro(1), r))
	call := rec.calls[0]
	require.True(t, strings.Contains(call.query, "projections.redemption_history"))

	var lots []RedemptionLotRow
	require.NoError(t, json.Unmarshal(call.args[9].([]byte), &lots))
	require.Len(t, lots, 1)
	require.Equal(t, borrower.String(), lots[0].Borrower)
	require.True(t, lots[0].Closed)
	require.Equal(t, 1, call.args[8])
}

func TestInsertLiquidation_RecordsMode(t *testing.T) {
	rec := &recordingExecer{}
	r := &core.LiquidationRecord{
		Asset:    "WETH",
		Borrower: uuid.New(),
		Mode:     core.LiquidationRecoveryCapped,
	}
	require.NoError(t, InsertLiquidation(context.Background(), rec, 11, time.UnixMicro(1), r))
	require.Equal(t, "recovery_capped", rec.calls[0].args[4])
	require.Equal(t, "0", rec.calls[0].args[5])
}
