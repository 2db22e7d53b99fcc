package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositConfirmed
	EventTypeWithdrawalRequested
	EventTypeTokenTransfer
	EventTypePriceUpdate
	EventTypeCollateralParamUpdate
	EventTypeOpenVessel
	EventTypeAdjustVessel
	EventTypeCloseVessel
	EventTypeClaimCollateral
	EventTypeLiquidate
	EventTypeLiquidateVessels
	EventTypeRedeemCollateral
	EventTypeProvideToSP
	EventTypeWithdrawFromSP
	EventTypeRewardIssuance
)

var eventTypeNames = map[EventType]string{
	EventTypeDepositConfirmed:      "DepositConfirmed",
	EventTypeWithdrawalRequested:   "WithdrawalRequested",
	EventTypeTokenTransfer:         "TokenTransfer",
	EventTypePriceUpdate:           "PriceUpdate",
	EventTypeCollateralParamUpdate: "CollateralParamUpdate",
	EventTypeOpenVessel:            "OpenVessel",
	EventTypeAdjustVessel:          "AdjustVessel",
	EventTypeCloseVessel:           "CloseVessel",
	EventTypeClaimCollateral:       "ClaimCollateral",
	EventTypeLiquidate:             "Liquidate",
	EventTypeLiquidateVessels:      "LiquidateVessels",
	EventTypeRedeemCollateral:      "RedeemCollateral",
	EventTypeProvideToSP:           "ProvideToSP",
	EventTypeWithdrawFromSP:        "WithdrawFromSP",
	EventTypeRewardIssuance:        "RewardIssuance",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for et, n := range eventTypeNames {
		if n == name {
			return et
		}
	}
	return EventTypeUnknown
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Collateral asset context (nil for global commands)
	AssetID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command, replayable through the ingestion parser
	Payload []byte

	// Set when a business rule refused the command. State is unchanged,
	// but the command still consumes a sequence so replay is identical.
	Rejected     bool
	RejectReason string

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// AssetID returns the collateral asset (nil for global commands)
	AssetID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime returns the versioned timestamp carried by the command
	EventTime() time.Time
}

// Header carries the fields shared by every command.
type Header struct {
	RequestID uuid.UUID // idempotency key
	Sequence  int64     // source sequence within the partition
	Timestamp time.Time // versioned input timestamp (NOT wall-clock)
}

func (h Header) IdempotencyKey() string {
	return h.RequestID.String()
}

func (h Header) SourceSequence() int64 {
	return h.Sequence
}

func (h Header) EventTime() time.Time {
	return h.Timestamp
}

func assetRef(asset string) *string {
	s := asset
	return &s
}
