package core

import "errors"

// ErrCommandRejected wraps every business-rule refusal. The command still
// receives a sequence and an envelope marked Rejected.
var ErrCommandRejected = errors.New("command rejected")

var (
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrDebtTokenBridging = errors.New("debt token cannot be bridged in")
	ErrUnknownToken      = errors.New("unknown token")

	ErrRecoveryMode       = errors.New("operation not permitted in recovery mode")
	ErrICRBelowMCR        = errors.New("collateral ratio below MCR")
	ErrICRBelowCCR        = errors.New("collateral ratio below CCR in recovery mode")
	ErrICRDecreased       = errors.New("collateral ratio must not decrease in recovery mode")
	ErrTCRBelowCCR        = errors.New("operation would push the system into recovery mode")
	ErrNetDebtTooSmall    = errors.New("net debt below minimum")
	ErrMintCapExceeded    = errors.New("debt mint cap exceeded")
	ErrInvalidAdjustment  = errors.New("invalid vessel adjustment")
	ErrWithdrawalTooLarge = errors.New("collateral withdrawal exceeds vessel collateral")
	ErrRepaymentTooLarge  = errors.New("repayment exceeds vessel net debt")

	ErrNotLiquidatable        = errors.New("vessel is not liquidatable")
	ErrNothingToLiquidate     = errors.New("nothing to liquidate")
	ErrNoStakesToRedistribute = errors.New("no remaining stakes to absorb redistributed debt")

	ErrTCRBelowMCR     = errors.New("cannot redeem when TCR < MCR")
	ErrUnableToRedeem  = errors.New("unable to redeem any amount")
	ErrNoDeposit       = errors.New("no stability pool deposit")
	ErrUndercollateral = errors.New("cannot withdraw while there are vessels with ICR < MCR")
	ErrEmptyPool       = errors.New("stability pool is empty")

	errUnknownEventType = errors.New("unknown event type")
)
