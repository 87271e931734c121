package port

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned by a PaymentGateway when the payer is short.
var ErrInsufficientFunds = errors.New("insufficient funds")

// PaymentGateway moves payment units between identities. Each call is atomic
// on the collaborator's side.
type PaymentGateway interface {
	Transfer(ctx context.Context, from, to string, amount int64) error

	// Refund returns amount held in settlement to the given identity
	Refund(ctx context.Context, to string, amount int64) error
}

// Funder credits payment units from outside the system and reports what an
// identity holds on the rail.
type Funder interface {
	Deposit(ctx context.Context, id string, amount int64) error
	Balance(ctx context.Context, id string) (int64, error)
}
