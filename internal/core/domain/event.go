package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a committed state transition.
type EventType string

const (
	EventProjectVerified   EventType = "project.verified"
	EventCreditMinted      EventType = "credit.minted"
	EventCreditTransferred EventType = "credit.transferred"
	EventCreditRetired     EventType = "credit.retired"
	EventListingCreated    EventType = "listing.created"
	EventListingSold       EventType = "listing.sold"
	EventListingCancelled  EventType = "listing.cancelled"
)

// Event is one entry of the append-only audit trail. Seq is dense, starts at
// 1 and is assigned when the producing operation commits.
type Event struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Actor      string          `json:"actor"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type ProjectVerified struct {
	Issuer    string `json:"issuer"`
	ProjectID string `json:"project_id"`
}

type CreditMinted struct {
	BatchID   int64  `json:"batch_id"`
	ProjectID string `json:"project_id"`
	Amount    int64  `json:"amount"`
	To        string `json:"to"`
	Vintage   int    `json:"vintage"`
	Location  string `json:"location"`
}

type CreditTransferred struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type CreditRetired struct {
	BatchID int64  `json:"batch_id"`
	Retiree string `json:"retiree"`
	Amount  int64  `json:"amount"`
}

type ListingCreated struct {
	ListingID int64  `json:"listing_id"`
	Seller    string `json:"seller"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Vintage   int    `json:"vintage"`
	ProjectID string `json:"project_id"`
}

type ListingSold struct {
	ListingID     int64  `json:"listing_id"`
	Buyer         string `json:"buyer"`
	Amount        int64  `json:"amount"`
	TotalPrice    int64  `json:"total_price"`
	Fee           int64  `json:"fee"`
	SellerPayment int64  `json:"seller_payment"`
	Refund        int64  `json:"refund"`
}

type ListingCancelled struct {
	ListingID int64 `json:"listing_id"`
	Returned  int64 `json:"returned"`
}

// NewEvent builds an unsequenced event with a fresh id.
func NewEvent(typ EventType, actor string, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Actor:      actor,
		OccurredAt: at,
		Payload:    raw,
	}, nil
}

// DecodePayload unmarshals the payload of e into a T.
func DecodePayload[T any](e Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload (seq %d): %w", e.Type, e.Seq, err)
	}
	return v, nil
}
