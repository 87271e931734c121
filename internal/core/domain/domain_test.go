package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("disk on fire")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("listing 4: %w", ErrNotFound)))
	assert.Equal(t, KindPaymentFailed,
		KindOf(fmt.Errorf("%w: transfer: %w", ErrPaymentFailed, errors.New("timeout"))))
	assert.Equal(t, KindInsufficientFunds,
		KindOf(fmt.Errorf("%w: buyer cannot pay 5: %w", ErrInsufficientFunds, errors.New("short"))))
	assert.Equal(t, KindOverflow, KindOf(errors.Join(errors.New("rollback"), ErrOverflow)))
}

func TestListingStatus(t *testing.T) {
	tests := []struct {
		listing Listing
		want    ListingStatus
	}{
		{Listing{Amount: 10, RemainingAmount: 10, Active: true}, ListingStatusActive},
		{Listing{Amount: 10, RemainingAmount: 4, Active: true}, ListingStatusPartiallyFilled},
		{Listing{Amount: 10, RemainingAmount: 0}, ListingStatusSoldOut},
		{Listing{Amount: 10, RemainingAmount: 4}, ListingStatusCancelled},
		{Listing{Amount: 10, RemainingAmount: 10}, ListingStatusCancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.listing.Status())
	}
}

func TestReservedAccounts(t *testing.T) {
	assert.True(t, IsReservedAccount(EscrowAccount))
	assert.True(t, IsReservedAccount(SettlementAccount))
	assert.False(t, IsReservedAccount("alice"))
}

func TestAccountClone(t *testing.T) {
	a := Account{ID: "issuer", IsVerifiedIssuer: true, Projects: []string{"p1"}}
	c := a.Clone()
	c.Projects[0] = "p2"
	assert.True(t, a.VerifiedFor("p1"))
	assert.False(t, a.VerifiedFor("p2"))
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e, err := NewEvent(EventCreditRetired, "alice", at, CreditRetired{BatchID: 3, Retiree: "alice", Amount: 12})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Zero(t, e.Seq)
	assert.Equal(t, EventCreditRetired, e.Type)
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, at, e.OccurredAt)
	assert.JSONEq(t, `{"batch_id":3,"retiree":"alice","amount":12}`, string(e.Payload))

	p, err := DecodePayload[CreditRetired](e)
	require.NoError(t, err)
	assert.Equal(t, CreditRetired{BatchID: 3, Retiree: "alice", Amount: 12}, p)

	other, err := NewEvent(EventCreditRetired, "alice", at, CreditRetired{})
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, other.ID)
}
