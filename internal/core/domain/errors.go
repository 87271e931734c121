package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrAlreadyRetired      = errors.New("batch already retired")
	ErrListingInactive     = errors.New("listing inactive")
	ErrOverflow            = errors.New("arithmetic overflow")

	ErrInvalidAccount       = errors.New("invalid account")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrVerificationRejected = errors.New("verification rejected")
	ErrInvariantViolation   = errors.New("ledger invariant violated")
	ErrDuplicateRequest     = errors.New("duplicate request")
)

// Kind is a stable, transport-neutral name for a failure.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindInvalidAmount        Kind = "invalid_amount"
	KindInsufficientBalance  Kind = "insufficient_balance"
	KindInsufficientPayment  Kind = "insufficient_payment"
	KindAlreadyRetired       Kind = "already_retired"
	KindListingInactive      Kind = "listing_inactive"
	KindOverflow             Kind = "overflow"
	KindInvalidAccount       Kind = "invalid_account"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindPaymentFailed        Kind = "payment_failed"
	KindVerificationRejected Kind = "verification_rejected"
	KindInvariantViolation   Kind = "invariant_violation"
	KindDuplicateRequest     Kind = "duplicate_request"
	KindInternal             Kind = "internal"
	KindNone                 Kind = ""
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrNotFound, KindNotFound},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientPayment, KindInsufficientPayment},
	{ErrAlreadyRetired, KindAlreadyRetired},
	{ErrListingInactive, KindListingInactive},
	{ErrOverflow, KindOverflow},
	{ErrInvalidAccount, KindInvalidAccount},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrPaymentFailed, KindPaymentFailed},
	{ErrVerificationRejected, KindVerificationRejected},
	{ErrInvariantViolation, KindInvariantViolation},
	{ErrDuplicateRequest, KindDuplicateRequest},
}

// KindOf classifies err by the first sentinel it wraps. Errors that wrap no
// sentinel are KindInternal; a nil error is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
