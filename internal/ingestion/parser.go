package ingestion

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event. The same wire format is written into envelope
// payloads by EncodeEvent, so a persisted envelope can be replayed through
// this function.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositConfirmed":
		return parseDepositConfirmed(raw.Data)
	case "WithdrawalRequested":
		return parseWithdrawalRequested(raw.Data)
	case "TokenTransfer":
		return parseTokenTransfer(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "CollateralParamUpdate":
		return parseCollateralParamUpdate(raw.Data)
	case "OpenVessel":
		return parseOpenVessel(raw.Data)
	case "AdjustVessel":
		return parseAdjustVessel(raw.Data)
	case "CloseVessel":
		return parseCloseVessel(raw.Data)
	case "ClaimCollateral":
		return parseClaimCollateral(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "LiquidateVessels":
		return parseLiquidateVessels(raw.Data)
	case "RedeemCollateral":
		return parseRedeemCollateral(raw.Data)
	case "ProvideToSP":
		return parseProvideToSP(raw.Data)
	case "WithdrawFromSP":
		return parseWithdrawFromSP(raw.Data)
	case "RewardIssuance":
		return parseRewardIssuance(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings in the smallest unit (1e18 = one token) so they survive
// JSON number precision limits.

type headerJSON struct {
	RequestID   string `json:"request_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j headerJSON) parse() (event.Header, error) {
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return event.Header{}, fmt.Errorf("parse request_id: %w", err)
	}
	return event.Header{
		RequestID: id,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func encodeHeader(h event.Header) headerJSON {
	return headerJSON{
		RequestID:   h.RequestID.String(),
		Sequence:    h.Sequence,
		TimestampUs: h.Timestamp.UnixMicro(),
	}
}

func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

// parseAmount treats an empty string as zero; optional amounts are
// omitted by producers.
func parseAmount(field, s string) (fpmath.Amount, error) {
	if s == "" {
		return fpmath.Amount{}, nil
	}
	a, err := fpmath.ParseAmount(s)
	if err != nil {
		return fpmath.Amount{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return a, nil
}

func amountString(a fpmath.Amount) string {
	return a.Dec()
}

// --- Wallet commands ---

type walletJSON struct {
	headerJSON
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func parseWallet(data []byte, name string) (event.Header, uuid.UUID, string, fpmath.Amount, error) {
	var j walletJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.Header{}, uuid.Nil, "", fpmath.Amount{}, fmt.Errorf("parse %s: %w", name, err)
	}
	hdr, err := j.parse()
	if err != nil {
		return event.Header{}, uuid.Nil, "", fpmath.Amount{}, err
	}
	userID, err := parseUUID("user_id", j.UserID)
	if err != nil {
		return event.Header{}, uuid.Nil, "", fpmath.Amount{}, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return event.Header{}, uuid.Nil, "", fpmath.Amount{}, err
	}
	return hdr, userID, j.Token, amount, nil
}

func parseDepositConfirmed(data []byte) (*event.DepositConfirmed, error) {
	hdr, userID, tok, amount, err := parseWallet(data, "DepositConfirmed")
	if err != nil {
		return nil, err
	}
	return &event.DepositConfirmed{Header: hdr, UserID: userID, Token: tok, Amount: amount}, nil
}

func parseWithdrawalRequested(data []byte) (*event.WithdrawalRequested, error) {
	hdr, userID, tok, amount, err := parseWallet(data, "WithdrawalRequested")
	if err != nil {
		return nil, err
	}
	return &event.WithdrawalRequested{Header: hdr, UserID: userID, Token: tok, Amount: amount}, nil
}

type tokenTransferJSON struct {
	headerJSON
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func parseTokenTransfer(data []byte) (*event.TokenTransfer, error) {
	var j tokenTransferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TokenTransfer: %w", err)
	}
	hdr, err := j.parse()
	if err != nil {
		return nil, err
	}
	from, err := parseUUID("from", j.From)
	if err != nil {
		return nil, err
	}
	to, err := parseUUID("to", j.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.TokenTransfer{Header: hdr, From: from, To: to, Token: j.Token, Amount: amount}, nil
}

// --- Oracle and governance ---

type priceUpdateJSON struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		return nil, fmt.Errorf("parse PriceUpdate: price must be positive")
	}
	return &event.PriceUpdate{
		Asset:         j.Asset,
		Price:         price,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type collateralParamUpdateJSON struct {
	Asset                    string `json:"asset"`
	Active                   bool   `json:"active"`
	MCR                      string `json:"mcr"`
	CCR                      string `json:"ccr"`
	DebtTokenGasCompensation string `json:"debt_token_gas_compensation"`
	MinNetDebt               string `json:"min_net_debt"`
	MintCap                  string `json:"mint_cap,omitempty"`
	PercentDivisor           uint64 `json:"percent_divisor"`
	BorrowingFeeBps          uint64 `json:"borrowing_fee_bps"`
	RedemptionFeeBps         uint64 `json:"redemption_fee_bps"`
	EffectiveSeq             int64  `json:"effective_seq"`
	Sequence                 int64  `json:"sequence"`
	TimestampUs              int64  `json:"timestamp_us"`
}

func parseCollateralParamUpdate(data []byte) (*event.CollateralParamUpdate, error) {
	var j collateralParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralParamUpdate: %w", err)
	}
	evt := &event.CollateralParamUpdate{
		Asset:            j.Asset,
		Active:           j.Active,
		PercentDivisor:   j.PercentDivisor,
		BorrowingFeeBps:  j.BorrowingFeeBps,
		RedemptionFeeBps: j.RedemptionFeeBps,
		EffectiveSeq:     j.EffectiveSeq,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}
	fields := []struct {
		name string
		raw  string
		dst  *fpmath.Amount
	}{
		{"mcr", j.MCR, &evt.MCR},
		{"ccr", j.CCR, &evt.CCR},
		{"debt_token_gas_compensation", j.DebtTokenGasCompensation, &evt.DebtTokenGasCompensation},
		{"min_net_debt", j.MinNetDebt, &evt.MinNetDebt},
		{"mint_cap", j.MintCap, &evt.MintCap},
	}
	for _, f := range fields {
		a, err := parseAmount(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = a
	}
	return evt, nil
}

// --- Vessel commands ---

type vesselRefJSON struct {
	headerJSON
	Asset    string `json:"asset"`
	Borrower string `json:"borrower"`
}

func (j vesselRefJSON) parseRef() (event.Header, uuid.UUID, error) {
	hdr, err := j.parse()
	if err != nil {
		return event.Header{}, uuid.Nil, err
	}
	borrower, err := parseUUID("borrower", j.Borrower)
	if err != nil {
		return event.Header{}, uuid.Nil, err
	}
	return hdr, borrower, nil
}

type openVesselJSON struct {
	vesselRefJSON
	Collateral string `json:"collateral"`
	DebtAmount string `json:"debt_amount"`
}

func parseOpenVessel(data []byte) (*event.OpenVessel, error) {
	var j openVesselJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenVessel: %w", err)
	}
	hdr, borrower, err := j.parseRef()
	if err != nil {
		return nil, err
	}
	coll, err := parseAmount("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount("debt_amount", j.DebtAmount)
	if err != nil {
		return nil, err
	}
	return &event.OpenVessel{Header: hdr, Asset: j.Asset, Borrower: borrower, Collateral: coll, DebtAmount: debt}, nil
}

type adjustVesselJSON struct {
	vesselRefJSON
	CollTopUp      string `json:"coll_top_up,omitempty"`
	CollWithdrawal string `json:"coll_withdrawal,omitempty"`
	DebtChange     string `json:"debt_change,omitempty"`
	IsDebtIncrease bool   `json:"is_debt_increase"`
}

func parseAdjustVessel(data []byte) (*event.AdjustVessel, error) {
	var j adjustVesselJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AdjustVessel: %w", err)
	}
	hdr, borrower, err := j.parseRef()
	if err != nil {
		return nil, err
	}
	topUp, err := parseAmount("coll_top_up", j.CollTopUp)
	if err != nil {
		return nil, err
	}
	withdrawal, err := parseAmount("coll_withdrawal", j.CollWithdrawal)
	if err != nil {
		return nil, err
	}
	debtChange, err := parseAmount("debt_change", j.DebtChange)
	if err != nil {
		return nil, err
	}
	return &event.AdjustVessel{
		Header:         hdr,
		Asset:          j.Asset,
		Borrower:       borrower,
		CollTopUp:      topUp,
		CollWithdrawal: withdrawal,
		DebtChange:     debtChange,
		IsDebtIncrease: j.IsDebtIncrease,
	}, nil
}

func parseCloseVessel(data []byte) (*event.CloseVessel, error) {
	var j vesselRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CloseVessel: %w", err)
	}
	hdr, borrower, err := j.parseRef()
	if err != nil {
		return nil, err
	}
	return &event.CloseVessel{Header: hdr, Asset: j.Asset, Borrower: borrower}, nil
}

func parseClaimCollateral(data []byte) (*event.ClaimCollateral, error) {
	var j vesselRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimCollateral: %w", err)
	}
	hdr, borrower, err := j.parseRef()
	if err != nil {
		return nil, err
	}
	return &event.ClaimCollateral{Header: hdr, Asset: j.Asset, Borrower: borrower}, nil
}

// --- Liquidation and redemption ---

type liquidateJSON struct {
	vesselRefJSON
	Liquidator string `json:"liquidator"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	hdr, borrower, err := j.parseRef()
	if err != nil {
		return nil, err
	}
	liquidator, err := parseUUID("liquidator", j.Liquidator)
	if err != nil {
		return nil, err
	}
	return &event.Liquidate{Header: hdr, Asset: j.Asset, Borrower: borrower, Liquidator: liquidator}, nil
}

type liquidateVesselsJSON struct {
	headerJSON
	Asset      string `json:"asset"`
	MaxVessels int    `json:"max_vessels"`
	Liquidator string `json:"liquidator"`
}

func parseLiquidateVessels(data []byte) (*event.LiquidateVessels, error) {
	var j liquidateVesselsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidateVessels: %w", err)
	}
	hdr, err := j.parse()
	if err != nil {
		return nil, err
	}
	liquidator, err := parseUUID("liquidator", j.Liquidator)
	if err != nil {
		return nil, err
	}
	if j.MaxVessels <= 0 {
		return nil, fmt.Errorf("parse LiquidateVessels: max_vessels must be positive")
	}
	return &event.LiquidateVessels{Header: hdr, Asset: j.Asset, MaxVessels: j.MaxVessels, Liquidator: liquidator}, nil
}

type redeemCollateralJSON struct {
	headerJSON
	Asset         string `json:"asset"`
	Redeemer      string `json:"redeemer"`
	Amount        string `json:"amount"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

func parseRedeemCollateral(data []byte) (*event.RedeemCollateral, error) {
	var j redeemCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedeemCollateral: %w", err)
	}
	hdr, err := j.parse()
	if err != nil {
		return nil, err
	}
	redeemer, err := parseUUID("redeemer", j.Redeemer)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.RedeemCollateral{
		Header:        hdr,
		Asset:         j.Asset,
		Redeemer:      redeemer,
		Amount:        amount,
		MaxIterations: j.MaxIterations,
	}, nil
}

// --- Stability Pool ---

type stabilityPoolJSON struct {
	headerJSON
	Asset     string `json:"asset"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount,omitempty"`
}

func (j stabilityPoolJSON) parseSP() (event.Header, uuid.UUID, fpmath.Amount, error) {
	hdr, err := j.parse()
	if err != nil {
		return event.Header{}, uuid.Nil, fpmath.Amount{}, err
	}
	depositor, err := parseUUID("depositor", j.Depositor)
	if err != nil {
		return event.Header{}, uuid.Nil, fpmath.Amount{}, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return event.Header{}, uuid.Nil, fpmath.Amount{}, err
	}
	return hdr, depositor, amount, nil
}

func parseProvideToSP(data []byte) (*event.ProvideToSP, error) {
	var j stabilityPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProvideToSP: %w", err)
	}
	hdr, depositor, amount, err := j.parseSP()
	if err != nil {
		return nil, err
	}
	return &event.ProvideToSP{Header: hdr, Asset: j.Asset, Depositor: depositor, Amount: amount}, nil
}

func parseWithdrawFromSP(data []byte) (*event.WithdrawFromSP, error) {
	var j stabilityPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawFromSP: %w", err)
	}
	hdr, depositor, amount, err := j.parseSP()
	if err != nil {
		return nil, err
	}
	return &event.WithdrawFromSP{Header: hdr, Asset: j.Asset, Depositor: depositor, Amount: amount}, nil
}

type rewardIssuanceJSON struct {
	headerJSON
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseRewardIssuance(data []byte) (*event.RewardIssuance, error) {
	var j rewardIssuanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardIssuance: %w", err)
	}
	hdr, err := j.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.RewardIssuance{Header: hdr, Asset: j.Asset, Amount: amount}, nil
}

// EncodeEvent renders a command in the wire format ParseRawEvent reads.
// The core stores the result as the envelope payload.
func EncodeEvent(evt event.Event) ([]byte, error) {
	var v interface{}
	switch e := evt.(type) {
	case *event.DepositConfirmed:
		v = walletJSON{encodeHeader(e.Header), e.UserID.String(), e.Token, amountString(e.Amount)}
	case *event.WithdrawalRequested:
		v = walletJSON{encodeHeader(e.Header), e.UserID.String(), e.Token, amountString(e.Amount)}
	case *event.TokenTransfer:
		v = tokenTransferJSON{encodeHeader(e.Header), e.From.String(), e.To.String(), e.Token, amountString(e.Amount)}
	case *event.PriceUpdate:
		v = priceUpdateJSON{e.Asset, amountString(e.Price), e.PriceSequence, e.Timestamp.UnixMicro()}
	case *event.CollateralParamUpdate:
		v = collateralParamUpdateJSON{
			Asset:                    e.Asset,
			Active:                   e.Active,
			MCR:                      amountString(e.MCR),
			CCR:                      amountString(e.CCR),
			DebtTokenGasCompensation: amountString(e.DebtTokenGasCompensation),
			MinNetDebt:               amountString(e.MinNetDebt),
			MintCap:                  amountString(e.MintCap),
			PercentDivisor:           e.PercentDivisor,
			BorrowingFeeBps:          e.BorrowingFeeBps,
			RedemptionFeeBps:         e.RedemptionFeeBps,
			EffectiveSeq:             e.EffectiveSeq,
			Sequence:                 e.Sequence,
			TimestampUs:              e.Timestamp.UnixMicro(),
		}
	case *event.OpenVessel:
		v = openVesselJSON{vesselRef(e.Header, e.Asset, e.Borrower), amountString(e.Collateral), amountString(e.DebtAmount)}
	case *event.AdjustVessel:
		v = adjustVesselJSON{
			vesselRefJSON:  vesselRef(e.Header, e.Asset, e.Borrower),
			CollTopUp:      amountString(e.CollTopUp),
			CollWithdrawal: amountString(e.CollWithdrawal),
			DebtChange:     amountString(e.DebtChange),
			IsDebtIncrease: e.IsDebtIncrease,
		}
	case *event.CloseVessel:
		v = vesselRef(e.Header, e.Asset, e.Borrower)
	case *event.ClaimCollateral:
		v = vesselRef(e.Header, e.Asset, e.Borrower)
	case *event.Liquidate:
		v = liquidateJSON{vesselRef(e.Header, e.Asset, e.Borrower), e.Liquidator.String()}
	case *event.LiquidateVessels:
		v = liquidateVesselsJSON{encodeHeader(e.Header), e.Asset, e.MaxVessels, e.Liquidator.String()}
	case *event.RedeemCollateral:
		v = redeemCollateralJSON{encodeHeader(e.Header), e.Asset, e.Redeemer.String(), amountString(e.Amount), e.MaxIterations}
	case *event.ProvideToSP:
		v = stabilityPoolJSON{encodeHeader(e.Header), e.Asset, e.Depositor.String(), amountString(e.Amount)}
	case *event.WithdrawFromSP:
		v = stabilityPoolJSON{encodeHeader(e.Header), e.Asset, e.Depositor.String(), amountString(e.Amount)}
	case *event.RewardIssuance:
		v = rewardIssuanceJSON{encodeHeader(e.Header), e.Asset, amountString(e.Amount)}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}
	return json.Marshal(v)
}

func vesselRef(h event.Header, asset string, borrower uuid.UUID) vesselRefJSON {
	return vesselRefJSON{encodeHeader(h), asset, borrower.String()}
}
