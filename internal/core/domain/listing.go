package domain

import "time"

type ListingStatus string

const (
	ListingStatusActive          ListingStatus = "active"
	ListingStatusPartiallyFilled ListingStatus = "partially_filled"
	ListingStatusSoldOut         ListingStatus = "sold_out"
	ListingStatusCancelled       ListingStatus = "cancelled"
)

// Listing is an offer to sell escrowed credits at a fixed price per credit.
// RemainingAmount never increases; Active only ever flips from true to false.
type Listing struct {
	ID              int64     `json:"id"`
	Seller          string    `json:"seller"`
	Amount          int64     `json:"amount"`
	RemainingAmount int64     `json:"remaining_amount"`
	PricePerCredit  int64     `json:"price_per_credit"`
	Vintage         int       `json:"vintage"`
	ProjectID       string    `json:"project_id"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	ClosedAt        time.Time `json:"closed_at,omitzero"`
}

// Status derives the lifecycle state from the stored fields.
func (l Listing) Status() ListingStatus {
	switch {
	case l.Active && l.RemainingAmount == l.Amount:
		return ListingStatusActive
	case l.Active:
		return ListingStatusPartiallyFilled
	case l.RemainingAmount == 0:
		return ListingStatusSoldOut
	default:
		return ListingStatusCancelled
	}
}

// Receipt describes the outcome of a successful purchase.
type Receipt struct {
	ListingID     int64  `json:"listing_id"`
	Buyer         string `json:"buyer"`
	Amount        int64  `json:"amount"`
	TotalPrice    int64  `json:"total_price"`
	Fee           int64  `json:"fee"`
	SellerPayment int64  `json:"seller_payment"`
	Refund        int64  `json:"refund"`
	Remaining     int64  `json:"remaining"`
	Closed        bool   `json:"closed"`
}
