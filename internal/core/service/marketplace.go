package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

// Marketplace lists escrowed credits for sale and settles purchases.
type Marketplace struct {
	book *Book
}

func NewMarketplace(book *Book) *Marketplace {
	return &Marketplace{book: book}
}

func (m *Marketplace) FeeBasisPoints() int64 {
	return m.book.feeBps
}

// CreateListing moves amount credits from the caller into escrow and offers
// them at pricePerCredit.
func (m *Marketplace) CreateListing(ctx context.Context, caller string, amount, pricePerCredit int64, vintage int, projectID string) (int64, error) {
	var listingID int64
	err := m.book.apply(ctx, "create_listing", caller, func(tx *txn) error {
		b := m.book
		if amount <= 0 || pricePerCredit <= 0 {
			return fmt.Errorf("listing amount %d price %d: %w", amount, pricePerCredit, domain.ErrInvalidAmount)
		}
		if err := checkIdentity(caller); err != nil {
			return err
		}
		if err := tx.move(caller, domain.EscrowAccount, amount); err != nil {
			return err
		}

		listingID = int64(len(b.listings)) + 1
		b.listings = append(b.listings, domain.Listing{
			ID:              listingID,
			Seller:          caller,
			Amount:          amount,
			RemainingAmount: amount,
			PricePerCredit:  pricePerCredit,
			Vintage:         vintage,
			ProjectID:       projectID,
			Active:          true,
			CreatedAt:       tx.at,
		})
		tx.onRollback(func(context.Context) error {
			b.listings = b.listings[:listingID-1]
			return nil
		})

		return tx.emit(domain.EventListingCreated, domain.ListingCreated{
			ListingID: listingID,
			Seller:    caller,
			Amount:    amount,
			Price:     pricePerCredit,
			Vintage:   vintage,
			ProjectID: projectID,
		})
	})
	if err != nil {
		return 0, err
	}
	return listingID, nil
}

// BuyCredits purchases requested credits from an active listing. The credit
// transfer, listing update, payment legs and refund commit together.
func (m *Marketplace) BuyCredits(ctx context.Context, caller string, listingID, requested, tendered int64) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := m.book.apply(ctx, "buy_credits", caller, func(tx *txn) error {
		b := m.book
		if err := checkIdentity(caller); err != nil {
			return err
		}
		listing, err := b.listingLocked(listingID)
		if err != nil {
			return err
		}
		if !listing.Active {
			return fmt.Errorf("listing %d: %w", listingID, domain.ErrListingInactive)
		}
		if caller == listing.Seller {
			return fmt.Errorf("seller cannot buy own listing %d: %w", listingID, domain.ErrUnauthorized)
		}
		if requested <= 0 || requested > listing.RemainingAmount {
			return fmt.Errorf("buy %d of %d remaining: %w", requested, listing.RemainingAmount, domain.ErrInvalidAmount)
		}

		total, fee, err := quote(requested, listing.PricePerCredit, b.feeBps)
		if err != nil {
			return err
		}
		if tendered < total {
			return fmt.Errorf("tendered %d, price %d: %w", tendered, total, domain.ErrInsufficientPayment)
		}

		prev := *listing
		listing.RemainingAmount -= requested
		if listing.RemainingAmount == 0 {
			listing.Active = false
			listing.ClosedAt = tx.at
		}
		tx.onRollback(func(context.Context) error {
			*listing = prev
			return nil
		})

		if err := tx.move(domain.EscrowAccount, caller, requested); err != nil {
			return err
		}

		receipt = domain.Receipt{
			ListingID:     listingID,
			Buyer:         caller,
			Amount:        requested,
			TotalPrice:    total,
			Fee:           fee,
			SellerPayment: total - fee,
			Refund:        tendered - total,
			Remaining:     listing.RemainingAmount,
			Closed:        !listing.Active,
		}
		if err := m.settle(ctx, tx, listing.Seller, tendered, receipt); err != nil {
			return err
		}

		return tx.emit(domain.EventListingSold, domain.ListingSold{
			ListingID:     listingID,
			Buyer:         caller,
			Amount:        requested,
			TotalPrice:    total,
			Fee:           fee,
			SellerPayment: receipt.SellerPayment,
			Refund:        receipt.Refund,
		})
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// CancelListing closes an active listing and returns its escrow to the seller.
func (m *Marketplace) CancelListing(ctx context.Context, caller string, listingID int64) error {
	return m.book.apply(ctx, "cancel_listing", caller, func(tx *txn) error {
		b := m.book
		listing, err := b.listingLocked(listingID)
		if err != nil {
			return err
		}
		if caller != listing.Seller {
			return fmt.Errorf("cancel listing %d by %s: %w", listingID, caller, domain.ErrUnauthorized)
		}
		if !listing.Active {
			return fmt.Errorf("listing %d: %w", listingID, domain.ErrListingInactive)
		}

		prev := *listing
		listing.Active = false
		listing.ClosedAt = tx.at
		tx.onRollback(func(context.Context) error {
			*listing = prev
			return nil
		})

		if err := tx.move(domain.EscrowAccount, caller, listing.RemainingAmount); err != nil {
			return err
		}
		return tx.emit(domain.EventListingCancelled, domain.ListingCancelled{
			ListingID: listingID,
			Returned:  listing.RemainingAmount,
		})
	})
}

// ListActive yields the ids of active listings in creation order. Every
// iteration observes a consistent snapshot taken when it starts.
func (m *Marketplace) ListActive() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for _, id := range m.book.activeListingIDs() {
			if !yield(id) {
				return
			}
		}
	}
}

// ActiveListings returns copies of all active listings in creation order.
func (m *Marketplace) ActiveListings() []domain.Listing {
	m.book.mu.RLock()
	defer m.book.mu.RUnlock()

	var out []domain.Listing
	for _, l := range m.book.listings {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

func (m *Marketplace) Listing(id int64) (domain.Listing, error) {
	m.book.mu.RLock()
	defer m.book.mu.RUnlock()
	l, err := m.book.listingLocked(id)
	if err != nil {
		return domain.Listing{}, err
	}
	return *l, nil
}
