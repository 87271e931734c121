package handler

import (
	"context"
	"fmt"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/core/service"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// Exchange is the transport-neutral surface shared by the HTTP and gRPC
// handlers. Mutations run through the request guard so a retried request
// under the same idempotency key is applied once.
type Exchange struct {
	Ledger *service.CreditLedger
	Market *service.Marketplace
	Review *service.IssuerReview
	Guard  *service.RequestGuard
	Events port.EventStore

	// Funds accepts deposits onto the payment rail. Nil when the rail is
	// funded elsewhere.
	Funds port.Funder
}

type VerifyIssuerRequest struct {
	Issuer    string `json:"issuer"`
	ProjectID string `json:"project_id"`
}

type ReviewIssuerResponse struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type MintRequest struct {
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	ProjectID string `json:"project_id"`
	Vintage   int    `json:"vintage"`
	Location  string `json:"location"`
}

type MintResponse struct {
	BatchID int64 `json:"batch_id"`
}

type TransferRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type RetireRequest struct {
	BatchID int64 `json:"batch_id"`
}

type CreateListingRequest struct {
	Amount         int64  `json:"amount"`
	PricePerCredit int64  `json:"price_per_credit"`
	Vintage        int    `json:"vintage"`
	ProjectID      string `json:"project_id"`
}

type CreateListingResponse struct {
	ListingID int64 `json:"listing_id"`
}

type BuyRequest struct {
	ListingID int64 `json:"listing_id"`
	Amount    int64 `json:"amount"`
	Payment   int64 `json:"payment"`
}

type CancelListingRequest struct {
	ListingID int64 `json:"listing_id"`
}

type ListingView struct {
	domain.Listing
	Status domain.ListingStatus `json:"status"`
}

func newListingView(l domain.Listing) ListingView {
	return ListingView{Listing: l, Status: l.Status()}
}

type ProjectSupply struct {
	ProjectID   string `json:"project_id"`
	TotalMinted int64  `json:"total_minted"`
}

type DepositRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type PaymentBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type EventsRequest struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
	Next   int64          `json:"next"`
}

// Empty is returned by operations with no result.
type Empty struct{}

func (x *Exchange) VerifyIssuer(ctx context.Context, caller, key string, req VerifyIssuerRequest) (Empty, error) {
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		return x.Ledger.VerifyIssuer(ctx, caller, req.Issuer, req.ProjectID)
	})
	return Empty{}, err
}

func (x *Exchange) ReviewIssuer(ctx context.Context, caller, key string, req VerifyIssuerRequest) (ReviewIssuerResponse, error) {
	var resp ReviewIssuerResponse
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		a, err := x.Review.Review(ctx, caller, req.Issuer, req.ProjectID)
		resp = ReviewIssuerResponse{Approved: a.Approved, Confidence: a.Confidence, Reason: a.Reason}
		return err
	})
	return resp, err
}

func (x *Exchange) Mint(ctx context.Context, caller, key string, req MintRequest) (MintResponse, error) {
	var resp MintResponse
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		id, err := x.Ledger.Mint(ctx, caller, req.To, req.Amount, req.ProjectID, req.Vintage, req.Location)
		resp.BatchID = id
		return err
	})
	return resp, err
}

func (x *Exchange) Transfer(ctx context.Context, caller, key string, req TransferRequest) (Empty, error) {
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		return x.Ledger.Transfer(ctx, caller, req.To, req.Amount)
	})
	return Empty{}, err
}

func (x *Exchange) Retire(ctx context.Context, caller, key string, req RetireRequest) (Empty, error) {
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		return x.Ledger.Retire(ctx, caller, req.BatchID)
	})
	return Empty{}, err
}

func (x *Exchange) CreateListing(ctx context.Context, caller, key string, req CreateListingRequest) (CreateListingResponse, error) {
	var resp CreateListingResponse
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		id, err := x.Market.CreateListing(ctx, caller, req.Amount, req.PricePerCredit, req.Vintage, req.ProjectID)
		resp.ListingID = id
		return err
	})
	return resp, err
}

func (x *Exchange) Buy(ctx context.Context, caller, key string, req BuyRequest) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		r, err := x.Market.BuyCredits(ctx, caller, req.ListingID, req.Amount, req.Payment)
		receipt = r
		return err
	})
	return receipt, err
}

func (x *Exchange) CancelListing(ctx context.Context, caller, key string, req CancelListingRequest) (Empty, error) {
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		return x.Market.CancelListing(ctx, caller, req.ListingID)
	})
	return Empty{}, err
}

// Deposit credits payment units to an account so it can buy listings. Only
// the platform owner may fund accounts.
func (x *Exchange) Deposit(ctx context.Context, caller, key string, req DepositRequest) (PaymentBalance, error) {
	if x.Funds == nil {
		return PaymentBalance{}, fmt.Errorf("%w: payment rail does not accept deposits", domain.ErrPaymentFailed)
	}
	if !x.Ledger.IsOwner(caller) {
		return PaymentBalance{}, fmt.Errorf("deposit: %w", domain.ErrUnauthorized)
	}
	if req.Account == "" || domain.IsReservedAccount(req.Account) {
		return PaymentBalance{}, fmt.Errorf("deposit to %q: %w", req.Account, domain.ErrInvalidAccount)
	}
	if req.Amount <= 0 {
		return PaymentBalance{}, fmt.Errorf("deposit %d: %w", req.Amount, domain.ErrInvalidAmount)
	}

	resp := PaymentBalance{Account: req.Account}
	err := x.Guard.Do(ctx, caller, key, func(ctx context.Context) error {
		if err := x.Funds.Deposit(ctx, req.Account, req.Amount); err != nil {
			return fmt.Errorf("%w: deposit to %s: %w", domain.ErrPaymentFailed, req.Account, err)
		}
		balance, err := x.Funds.Balance(ctx, req.Account)
		resp.Balance = balance
		return err
	})
	return resp, err
}

func (x *Exchange) PaymentBalance(ctx context.Context, account string) (PaymentBalance, error) {
	if x.Funds == nil {
		return PaymentBalance{}, fmt.Errorf("%w: payment rail does not report balances", domain.ErrPaymentFailed)
	}
	balance, err := x.Funds.Balance(ctx, account)
	if err != nil {
		return PaymentBalance{}, fmt.Errorf("%w: balance of %s: %w", domain.ErrPaymentFailed, account, err)
	}
	return PaymentBalance{Account: account, Balance: balance}, nil
}

// ActiveListings walks the active-listing iterator. Listings closed between
// the snapshot and the lookup are skipped.
func (x *Exchange) ActiveListings() []ListingView {
	out := []ListingView{}
	for id := range x.Market.ListActive() {
		l, err := x.Market.Listing(id)
		if err != nil || !l.Active {
			continue
		}
		out = append(out, newListingView(l))
	}
	return out
}

func (x *Exchange) Listing(id int64) (ListingView, error) {
	l, err := x.Market.Listing(id)
	if err != nil {
		return ListingView{}, err
	}
	return newListingView(l), nil
}

func (x *Exchange) Account(id string) domain.Account {
	return x.Ledger.Account(id)
}

func (x *Exchange) Batch(id int64) (domain.CreditBatch, error) {
	return x.Ledger.Batch(id)
}

func (x *Exchange) ProjectSupply(projectID string) ProjectSupply {
	return ProjectSupply{ProjectID: projectID, TotalMinted: x.Ledger.TotalMinted(projectID)}
}

func (x *Exchange) Supply() domain.Supply {
	return x.Ledger.Supply()
}

// EventFeed pages through the audit trail. Next is the cursor to pass as
// After for the following page.
func (x *Exchange) EventFeed(ctx context.Context, req EventsRequest) (EventsResponse, error) {
	if req.After < 0 || req.Limit < 0 {
		return EventsResponse{}, fmt.Errorf("event cursor: %w", domain.ErrInvalidAmount)
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultEventPage
	}
	limit = min(limit, maxEventPage)

	events, err := x.Events.Load(ctx, req.After, limit)
	if err != nil {
		return EventsResponse{}, fmt.Errorf("load events: %w", err)
	}
	resp := EventsResponse{Events: events, Next: req.After}
	if n := len(events); n > 0 {
		resp.Next = events[n-1].Seq
	}
	if resp.Events == nil {
		resp.Events = []domain.Event{}
	}
	return resp, nil
}
