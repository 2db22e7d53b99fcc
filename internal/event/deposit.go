package event

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// DepositConfirmed credits tokens confirmed by custody to a user wallet.
// Only collateral and reward tokens can be bridged in; the debt token is
// minted exclusively against Vessels.
type DepositConfirmed struct {
	Header
	UserID uuid.UUID
	Token  string
	Amount fpmath.Amount
}

func (d *DepositConfirmed) EventType() EventType {
	return EventTypeDepositConfirmed
}

func (d *DepositConfirmed) AssetID() *string {
	return nil // Global event
}

// TokenTransfer moves tokens between two user wallets.
type TokenTransfer struct {
	Header
	From   uuid.UUID
	To     uuid.UUID
	Token  string
	Amount fpmath.Amount
}

func (t *TokenTransfer) EventType() EventType {
	return EventTypeTokenTransfer
}

func (t *TokenTransfer) AssetID() *string {
	return nil
}
