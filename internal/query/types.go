package query

import (
	"VesselLedger/internal/core"
	fpmath "VesselLedger/internal/math"
	"encoding/json"
)

// Amounts are wei decimal strings. Ratios are plain decimals ("1.42").

// VesselResponse is a Vessel with pending redistribution rewards applied.
type VesselResponse struct {
	Asset        string `json:"asset"`
	Borrower     string `json:"borrower"`
	Status       string `json:"status"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	PendingColl  string `json:"pending_coll"`
	PendingDebt  string `json:"pending_debt"`
	Stake        string `json:"stake"`
	ICR          string `json:"icr,omitempty"`
	NICR         string `json:"nicr"`
	Surplus      string `json:"claimable_surplus"`
	Version      int64  `json:"version"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type VesselListResponse struct {
	Asset        string           `json:"asset"`
	Vessels      []VesselResponse `json:"vessels"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// DepositResponse is a Stability Pool deposit with gains to date.
type DepositResponse struct {
	Asset          string `json:"asset"`
	Depositor      string `json:"depositor"`
	InitialValue   string `json:"initial_value"`
	Compounded     string `json:"compounded"`
	CollateralGain string `json:"collateral_gain"`
	RewardGain     string `json:"reward_gain"`
	Version        int64  `json:"version"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// AccumulatorsResponse exposes the per-asset reward accumulators.
type AccumulatorsResponse struct {
	Asset        string `json:"asset"`
	Active       bool   `json:"active"`
	Price        string `json:"price,omitempty"`
	TCR          string `json:"tcr,omitempty"`
	RecoveryMode bool   `json:"recovery_mode"`

	ActiveColl        string `json:"active_coll"`
	ActiveDebt        string `json:"active_debt"`
	DefaultColl       string `json:"default_coll"`
	DefaultDebt       string `json:"default_debt"`
	StabilityPoolColl string `json:"stability_pool_coll"`
	CollSurplus       string `json:"coll_surplus"`

	LColl                   string `json:"l_coll"`
	LDebt                   string `json:"l_debt"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`

	StabilityPoolDeposits string `json:"stability_pool_deposits"`
	P                     string `json:"p"`
	Epoch                 uint64 `json:"epoch"`
	Scale                 uint64 `json:"scale"`

	ActiveVessels int   `json:"active_vessels"`
	AsOfSequence  int64 `json:"as_of_sequence"`
}

// LiquidationResponse is one row of liquidation history.
type LiquidationResponse struct {
	Sequence            int64  `json:"sequence"`
	Asset               string `json:"asset"`
	Borrower            string `json:"borrower"`
	Liquidator          string `json:"liquidator"`
	Mode                string `json:"mode"`
	Collateral          string `json:"collateral"`
	Debt                string `json:"debt"`
	ICR                 string `json:"icr"`
	Price               string `json:"price"`
	CollGasCompensation string `json:"coll_gas_compensation"`
	DebtGasCompensation string `json:"debt_gas_compensation"`
	DebtToOffset        string `json:"debt_to_offset"`
	CollToStabilityPool string `json:"coll_to_stability_pool"`
	DebtToRedistribute  string `json:"debt_to_redistribute"`
	CollToRedistribute  string `json:"coll_to_redistribute"`
	CollSurplus         string `json:"coll_surplus"`
	Timestamp           int64  `json:"timestamp_us"`
}

// RedemptionResponse is one row of redemption history.
type RedemptionResponse struct {
	Sequence      int64           `json:"sequence"`
	Asset         string          `json:"asset"`
	Redeemer      string          `json:"redeemer"`
	Price         string          `json:"price"`
	Requested     string          `json:"requested"`
	DebtRedeemed  string          `json:"debt_redeemed"`
	CollRedeemed  string          `json:"coll_redeemed"`
	CollFee       string          `json:"coll_fee"`
	VesselsClosed int             `json:"vessels_closed"`
	Lots          json.RawMessage `json:"lots"`
	Timestamp     int64           `json:"timestamp_us"`
}

// HistoryPage wraps a page of history rows. NextBefore feeds the next
// request's before_sequence; zero means no more rows.
type HistoryPage[T any] struct {
	Items        []T   `json:"items"`
	NextBefore   int64 `json:"next_before_sequence,omitempty"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool     `json:"is_healthy"`
	HashChainBreaks  []int64  `json:"hash_chain_breaks,omitempty"`
	CoreSequence     int64    `json:"core_sequence"`
	PersistedThrough int64    `json:"persisted_through"`
	ProjectedThrough int64    `json:"projected_through"`
	SupplyMismatches []string `json:"supply_mismatches,omitempty"`
}

func amount(a fpmath.Amount) string { return a.Dec() }

// ratio renders a 1e18 fixed-point ratio as a decimal.
func ratio(a fpmath.Amount) string { return fpmath.ToDecimal(a).String() }

func newVesselResponse(v core.VesselView, surplus fpmath.Amount, seq int64) VesselResponse {
	r := VesselResponse{
		Asset:        v.Asset,
		Borrower:     v.Borrower.String(),
		Status:       v.Status.String(),
		Collateral:   amount(v.Collateral),
		Debt:         amount(v.Debt),
		PendingColl:  amount(v.PendingColl),
		PendingDebt:  amount(v.PendingDebt),
		Stake:        amount(v.Stake),
		NICR:         ratio(v.NICR),
		Surplus:      amount(surplus),
		Version:      v.Version,
		AsOfSequence: seq,
	}
	if !v.ICR.IsZero() {
		r.ICR = ratio(v.ICR)
	}
	return r
}
