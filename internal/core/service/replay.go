package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

var errBookNotEmpty = errors.New("book already has state")

// Restore rebuilds the book from its event store and re-checks every
// invariant. It must be called on a fresh book before serving operations.
func (b *Book) Restore(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seq != 0 || len(b.batches) != 0 || len(b.listings) != 0 {
		return errBookNotEmpty
	}

	for {
		page, err := b.events.Load(ctx, b.seq, restorePageSize)
		if err != nil {
			return fmt.Errorf("load events after %d: %w", b.seq, err)
		}
		for _, e := range page {
			if e.Seq != b.seq+1 {
				return fmt.Errorf("%w: expected seq %d, got %d", domain.ErrInvariantViolation, b.seq+1, e.Seq)
			}
			if err := b.replay(e); err != nil {
				return fmt.Errorf("replay seq %d: %w", e.Seq, err)
			}
			b.seq = e.Seq
		}
		if len(page) < restorePageSize {
			break
		}
	}

	if err := b.verifyLocked(); err != nil {
		return err
	}
	b.metrics.ObserveSupply(b.supplyLocked())
	b.log.WithFields(logrus.Fields{
		"seq":      b.seq,
		"batches":  len(b.batches),
		"listings": len(b.listings),
	}).Info("book restored")
	return nil
}

func (b *Book) replay(e domain.Event) error {
	switch e.Type {
	case domain.EventProjectVerified:
		p, err := domain.DecodePayload[domain.ProjectVerified](e)
		if err != nil {
			return err
		}
		a := b.replayAccount(p.Issuer)
		a.IsVerifiedIssuer = true
		if !a.VerifiedFor(p.ProjectID) {
			a.Projects = append(slices.Clone(a.Projects), p.ProjectID)
		}

	case domain.EventCreditMinted:
		p, err := domain.DecodePayload[domain.CreditMinted](e)
		if err != nil {
			return err
		}
		if p.BatchID != int64(len(b.batches))+1 {
			return fmt.Errorf("%w: batch id %d out of order", domain.ErrInvariantViolation, p.BatchID)
		}
		b.batches = append(b.batches, domain.CreditBatch{
			ID:        p.BatchID,
			Amount:    p.Amount,
			ProjectID: p.ProjectID,
			Vintage:   p.Vintage,
			Location:  p.Location,
			Owner:     p.To,
			MintedAt:  e.OccurredAt,
		})
		b.projectCredits[p.ProjectID] += p.Amount
		b.minted += p.Amount
		b.replayAccount(p.To).Balance += p.Amount

	case domain.EventCreditTransferred:
		p, err := domain.DecodePayload[domain.CreditTransferred](e)
		if err != nil {
			return err
		}
		b.replayMove(p.From, p.To, p.Amount)

	case domain.EventCreditRetired:
		p, err := domain.DecodePayload[domain.CreditRetired](e)
		if err != nil {
			return err
		}
		batch, err := b.batchLocked(p.BatchID)
		if err != nil {
			return err
		}
		batch.Retired = true
		b.retired += batch.Amount
		b.replayAccount(p.Retiree).Balance -= batch.Amount

	case domain.EventListingCreated:
		p, err := domain.DecodePayload[domain.ListingCreated](e)
		if err != nil {
			return err
		}
		if p.ListingID != int64(len(b.listings))+1 {
			return fmt.Errorf("%w: listing id %d out of order", domain.ErrInvariantViolation, p.ListingID)
		}
		b.listings = append(b.listings, domain.Listing{
			ID:              p.ListingID,
			Seller:          p.Seller,
			Amount:          p.Amount,
			RemainingAmount: p.Amount,
			PricePerCredit:  p.Price,
			Vintage:         p.Vintage,
			ProjectID:       p.ProjectID,
			Active:          true,
			CreatedAt:       e.OccurredAt,
		})
		b.replayMove(p.Seller, domain.EscrowAccount, p.Amount)

	case domain.EventListingSold:
		p, err := domain.DecodePayload[domain.ListingSold](e)
		if err != nil {
			return err
		}
		l, err := b.listingLocked(p.ListingID)
		if err != nil {
			return err
		}
		l.RemainingAmount -= p.Amount
		if l.RemainingAmount == 0 {
			l.Active = false
			l.ClosedAt = e.OccurredAt
		}
		b.replayMove(domain.EscrowAccount, p.Buyer, p.Amount)

	case domain.EventListingCancelled:
		p, err := domain.DecodePayload[domain.ListingCancelled](e)
		if err != nil {
			return err
		}
		l, err := b.listingLocked(p.ListingID)
		if err != nil {
			return err
		}
		l.Active = false
		l.ClosedAt = e.OccurredAt
		b.replayMove(domain.EscrowAccount, l.Seller, l.RemainingAmount)

	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (b *Book) replayAccount(id string) *domain.Account {
	a, ok := b.accounts[id]
	if !ok {
		a = &domain.Account{ID: id}
		b.accounts[id] = a
	}
	return a
}

func (b *Book) replayMove(from, to string, amount int64) {
	b.replayAccount(from).Balance -= amount
	b.replayAccount(to).Balance += amount
}
