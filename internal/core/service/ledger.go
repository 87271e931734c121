package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

// CreditLedger mints, transfers and retires fungible credits.
type CreditLedger struct {
	book *Book
}

func NewCreditLedger(book *Book) *CreditLedger {
	return &CreditLedger{book: book}
}

func (l *CreditLedger) IsOwner(caller string) bool {
	return l.book.IsOwner(caller)
}

// VerifyIssuer grants target the verified-issuer capability for projectID.
// Only the platform owner may call it; verifying again is a no-op.
func (l *CreditLedger) VerifyIssuer(ctx context.Context, caller, target, projectID string) error {
	return l.book.apply(ctx, "verify_issuer", caller, func(tx *txn) error {
		if !l.book.IsOwner(caller) {
			return fmt.Errorf("verify issuer %s: %w", target, domain.ErrUnauthorized)
		}
		if err := checkIdentity(target); err != nil {
			return err
		}

		acct := tx.account(target)
		if acct.IsVerifiedIssuer && acct.VerifiedFor(projectID) {
			return nil
		}

		prevFlag, prevProjects := acct.IsVerifiedIssuer, acct.Projects
		acct.IsVerifiedIssuer = true
		if !acct.VerifiedFor(projectID) {
			acct.Projects = append(slices.Clone(acct.Projects), projectID)
		}
		tx.onRollback(func(context.Context) error {
			acct.IsVerifiedIssuer, acct.Projects = prevFlag, prevProjects
			return nil
		})

		return tx.emit(domain.EventProjectVerified, domain.ProjectVerified{
			Issuer:    target,
			ProjectID: projectID,
		})
	})
}

// Mint creates a new batch of amount credits and credits them to to.
func (l *CreditLedger) Mint(ctx context.Context, caller, to string, amount int64, projectID string, vintage int, location string) (int64, error) {
	var batchID int64
	err := l.book.apply(ctx, "mint", caller, func(tx *txn) error {
		b := l.book
		if amount <= 0 {
			return fmt.Errorf("mint %d: %w", amount, domain.ErrInvalidAmount)
		}
		if !b.IsOwner(caller) && !b.accountCopy(caller).IsVerifiedIssuer {
			return fmt.Errorf("mint by %s: %w", caller, domain.ErrUnauthorized)
		}
		if err := checkIdentity(to); err != nil {
			return err
		}

		minted, ok := addInt64(b.minted, amount)
		if !ok {
			return fmt.Errorf("mint %d: total supply: %w", amount, domain.ErrOverflow)
		}
		if err := tx.credit(to, amount); err != nil {
			return err
		}

		prevMinted := b.minted
		prevProject, existed := b.projectCredits[projectID]
		b.minted = minted
		b.projectCredits[projectID] = prevProject + amount

		batchID = int64(len(b.batches)) + 1
		b.batches = append(b.batches, domain.CreditBatch{
			ID:        batchID,
			Amount:    amount,
			ProjectID: projectID,
			Vintage:   vintage,
			Location:  location,
			Owner:     to,
			MintedAt:  tx.at,
		})
		tx.onRollback(func(context.Context) error {
			b.batches = b.batches[:batchID-1]
			b.minted = prevMinted
			if existed {
				b.projectCredits[projectID] = prevProject
			} else {
				delete(b.projectCredits, projectID)
			}
			return nil
		})

		return tx.emit(domain.EventCreditMinted, domain.CreditMinted{
			BatchID:   batchID,
			ProjectID: projectID,
			Amount:    amount,
			To:        to,
			Vintage:   vintage,
			Location:  location,
		})
	})
	if err != nil {
		return 0, err
	}
	return batchID, nil
}

// Transfer moves amount credits from caller to to.
func (l *CreditLedger) Transfer(ctx context.Context, caller, to string, amount int64) error {
	return l.book.apply(ctx, "transfer", caller, func(tx *txn) error {
		if amount <= 0 {
			return fmt.Errorf("transfer %d: %w", amount, domain.ErrInvalidAmount)
		}
		if err := checkIdentity(caller); err != nil {
			return err
		}
		if err := checkIdentity(to); err != nil {
			return err
		}
		if err := tx.move(caller, to, amount); err != nil {
			return err
		}
		return tx.emit(domain.EventCreditTransferred, domain.CreditTransferred{
			From:   caller,
			To:     to,
			Amount: amount,
		})
	})
}

// Retire marks batchID retired and burns its amount from the caller's
// fungible balance. The burned units need not originate from that batch.
func (l *CreditLedger) Retire(ctx context.Context, caller string, batchID int64) error {
	return l.book.apply(ctx, "retire", caller, func(tx *txn) error {
		b := l.book
		if err := checkIdentity(caller); err != nil {
			return err
		}
		batch, err := b.batchLocked(batchID)
		if err != nil {
			return err
		}
		if batch.Retired {
			return fmt.Errorf("batch %d: %w", batchID, domain.ErrAlreadyRetired)
		}
		if err := tx.debit(caller, batch.Amount); err != nil {
			return err
		}

		prevRetired := b.retired
		batch.Retired = true
		b.retired += batch.Amount
		tx.onRollback(func(context.Context) error {
			batch.Retired = false
			b.retired = prevRetired
			return nil
		})

		return tx.emit(domain.EventCreditRetired, domain.CreditRetired{
			BatchID: batchID,
			Retiree: caller,
			Amount:  batch.Amount,
		})
	})
}

// Account returns a copy of the account. Unknown identities read as empty
// accounts since accounts exist implicitly.
func (l *CreditLedger) Account(id string) domain.Account {
	l.book.mu.RLock()
	defer l.book.mu.RUnlock()
	return l.book.accountCopy(id)
}

func (l *CreditLedger) Balance(id string) int64 {
	return l.Account(id).Balance
}

func (l *CreditLedger) Batch(id int64) (domain.CreditBatch, error) {
	l.book.mu.RLock()
	defer l.book.mu.RUnlock()
	batch, err := l.book.batchLocked(id)
	if err != nil {
		return domain.CreditBatch{}, err
	}
	return *batch, nil
}

// TotalMinted returns the credits ever minted for projectID.
func (l *CreditLedger) TotalMinted(projectID string) int64 {
	l.book.mu.RLock()
	defer l.book.mu.RUnlock()
	return l.book.projectCredits[projectID]
}

func (l *CreditLedger) Supply() domain.Supply {
	return l.book.Supply()
}
