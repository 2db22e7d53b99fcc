package event

import (
	fpmath "VesselLedger/internal/math"

	"github.com/google/uuid"
)

// WithdrawalRequested debits a user wallet for release by custody.
type WithdrawalRequested struct {
	Header
	UserID uuid.UUID
	Token  string
	Amount fpmath.Amount
}

func (w *WithdrawalRequested) EventType() EventType {
	return EventTypeWithdrawalRequested
}

func (w *WithdrawalRequested) AssetID() *string {
	return nil // Global event
}
