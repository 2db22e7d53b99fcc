package ingestion_test

import (
	"VesselLedger/internal/event"
	"VesselLedger/internal/ingestion"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/testutil"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDepositConfirmed(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"token":        "WETH",
		"amount":       "2000000000000000000",
		"sequence":     int64(2),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepositConfirmed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dc, ok := evt.(*event.DepositConfirmed)
	if !ok {
		t.Fatalf("expected *event.DepositConfirmed, got %T", evt)
	}

	if dc.Token != "WETH" {
		t.Errorf("token: got %s, want WETH", dc.Token)
	}
	if want := fpmath.Units(2); !dc.Amount.Eq(&want) {
		t.Errorf("amount: got %s, want 2e18", dc.Amount.Dec())
	}
	if dc.Sequence != 2 {
		t.Errorf("sequence: got %d, want 2", dc.Sequence)
	}
	if dc.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", dc.IdempotencyKey())
	}
	if dc.EventType() != event.EventTypeDepositConfirmed {
		t.Errorf("event type: got %v, want DepositConfirmed", dc.EventType())
	}
}

func TestParseOpenVessel(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"asset":        "WETH",
		"borrower":     "660e8400-e29b-41d4-a716-446655440001",
		"collateral":   "10000000000000000000",
		"debt_amount":  "5000000000000000000000",
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "OpenVessel")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ov, ok := evt.(*event.OpenVessel)
	if !ok {
		t.Fatalf("expected *event.OpenVessel, got %T", evt)
	}

	if ov.Asset != "WETH" {
		t.Errorf("asset: got %s, want WETH", ov.Asset)
	}
	if want := fpmath.Units(10); !ov.Collateral.Eq(&want) {
		t.Errorf("collateral: got %s, want 10e18", ov.Collateral.Dec())
	}
	if want := fpmath.Units(5000); !ov.DebtAmount.Eq(&want) {
		t.Errorf("debt_amount: got %s, want 5000e18", ov.DebtAmount.Dec())
	}
	if asset := ov.AssetID(); asset == nil || *asset != "WETH" {
		t.Errorf("asset id: got %v, want WETH", asset)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "WETH",
		"price":          "2000000000000000000000",
		"price_sequence": int64(100),
		"timestamp_us":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}
	if want := fpmath.Units(2000); !pu.Price.Eq(&want) {
		t.Errorf("price: got %s, want 2000e18", pu.Price.Dec())
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
}

func TestParsePriceUpdate_ZeroPrice_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "WETH",
		"price":          "0",
		"price_sequence": int64(1),
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PriceUpdate"); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestParseWithdrawFromSP_AmountOptional(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"asset":      "WETH",
		"depositor":  "660e8400-e29b-41d4-a716-446655440001",
		"sequence":   int64(3),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "WithdrawFromSP")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	w := evt.(*event.WithdrawFromSP)
	if !w.Amount.IsZero() {
		t.Errorf("amount: got %s, want 0", w.Amount.Dec())
	}
}

func TestParseLiquidateVessels_RequiresMax(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"asset":      "WETH",
		"liquidator": "660e8400-e29b-41d4-a716-446655440001",
		"sequence":   int64(3),
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "LiquidateVessels"); err == nil {
		t.Fatal("expected error for missing max_vessels")
	}
}

func TestEncodeEvent_ReplaysThroughParser(t *testing.T) {
	hdr := event.Header{RequestID: uuid.New(), Sequence: 12, Timestamp: time.UnixMicro(1700000000000000)}
	original := &event.AdjustVessel{
		Header:         hdr,
		Asset:          "WETH",
		Borrower:       uuid.New(),
		CollTopUp:      fpmath.Units(3),
		DebtChange:     fpmath.MustParseAmount("123456789012345678901234567890"),
		IsDebtIncrease: true,
	}

	data, err := ingestion.EncodeEvent(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: data}, original.EventType().String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := evt.(*event.AdjustVessel)

	if got.Header != original.Header {
		t.Errorf("header: got %+v, want %+v", got.Header, original.Header)
	}
	if got.Borrower != original.Borrower {
		t.Errorf("borrower: got %s, want %s", got.Borrower, original.Borrower)
	}
	if !got.DebtChange.Eq(&original.DebtChange) {
		t.Errorf("debt_change: got %s, want %s", got.DebtChange.Dec(), original.DebtChange.Dec())
	}
	if !got.CollWithdrawal.IsZero() || !got.IsDebtIncrease {
		t.Errorf("flags lost: withdrawal=%s increase=%v", got.CollWithdrawal.Dec(), got.IsDebtIncrease)
	}
}

func TestEncodeEvent_CollateralParams(t *testing.T) {
	original := &event.CollateralParamUpdate{
		Asset:                    "WETH",
		Active:                   true,
		MCR:                      fpmath.MustParseAmount("1100000000000000000"),
		CCR:                      fpmath.MustParseAmount("1500000000000000000"),
		DebtTokenGasCompensation: fpmath.Units(200),
		MinNetDebt:               fpmath.Units(1800),
		PercentDivisor:           200,
		BorrowingFeeBps:          50,
		RedemptionFeeBps:         50,
		EffectiveSeq:             4,
		Sequence:                 9,
		Timestamp:                time.UnixMicro(42),
	}
	data, err := ingestion.EncodeEvent(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: data}, "CollateralParamUpdate")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := evt.(*event.CollateralParamUpdate)
	if !got.MCR.Eq(&original.MCR) || !got.CCR.Eq(&original.CCR) {
		t.Errorf("ratios: got mcr=%s ccr=%s", got.MCR.Dec(), got.CCR.Dec())
	}
	if got.PercentDivisor != 200 || got.EffectiveSeq != 4 || got.Sequence != 9 {
		t.Errorf("scalars: got %+v", got)
	}
	if got.IdempotencyKey() != original.IdempotencyKey() {
		t.Errorf("idempotency key: got %s, want %s", got.IdempotencyKey(), original.IdempotencyKey())
	}
}

func TestPublishableEvent_Subject(t *testing.T) {
	asset := "WETH"
	env := &event.EventEnvelope{Sequence: 5, EventType: event.EventTypeLiquidate, AssetID: &asset}
	p := ingestion.NewPublishableEvent(env)
	if got := p.Subject(); got != "vessel.ledger.events.Liquidate.WETH" {
		t.Errorf("subject: got %s", got)
	}

	env = &event.EventEnvelope{Sequence: 6, EventType: event.EventTypeTokenTransfer}
	if got := ingestion.NewPublishableEvent(env).Subject(); got != "vessel.ledger.events.TokenTransfer" {
		t.Errorf("subject: got %s", got)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "OpenVessel")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "not-a-uuid",
		"asset":      "WETH",
		"borrower":   "also-not-a-uuid",
	}

	_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CloseVessel")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"token":      "WETH",
		"amount":     "1.5",
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "DepositConfirmed"); err == nil {
		t.Fatal("expected error for non-integer amount")
	}
}

func TestEncodeEvent_OpenVesselWireFormat(t *testing.T) {
	evt := &event.OpenVessel{
		Header: event.Header{
			RequestID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
			Sequence:  7,
			Timestamp: time.UnixMicro(1700000000000000),
		},
		Asset:      "WETH",
		Borrower:   uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
		Collateral: fpmath.Units(10),
		DebtAmount: fpmath.Units(5000),
	}
	data, err := ingestion.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.AssertGolden(t, "open_vessel.golden.json", data)
}
