package domain

import "time"

// CreditBatch records one mint event. Amount is fixed at mint time; Retired
// only ever flips from false to true.
type CreditBatch struct {
	ID        int64     `json:"id"`
	Amount    int64     `json:"amount"`
	ProjectID string    `json:"project_id"`
	Vintage   int       `json:"vintage"`
	Location  string    `json:"location"`
	Owner     string    `json:"owner"`
	Retired   bool      `json:"retired"`
	MintedAt  time.Time `json:"minted_at"`
}

// Supply is a point-in-time view of the credit totals.
type Supply struct {
	Minted      int64 `json:"minted"`
	Retired     int64 `json:"retired"`
	Escrowed    int64 `json:"escrowed"`
	Circulating int64 `json:"circulating"`
}
