package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

// settle runs the payment legs of a purchase. Every completed leg registers
// its reversal on tx, so a later failure anywhere in the operation unwinds
// the payments together with the ledger state.
func (m *Marketplace) settle(ctx context.Context, tx *txn, seller string, tendered int64, r domain.Receipt) error {
	b := m.book
	if b.payments == nil {
		return fmt.Errorf("%w: no payment gateway configured", domain.ErrPaymentFailed)
	}

	legs := []struct {
		from, to string
		amount   int64
	}{
		{r.Buyer, domain.SettlementAccount, tendered},
		{domain.SettlementAccount, seller, r.SellerPayment},
		{domain.SettlementAccount, b.treasury, r.Fee},
	}
	for _, leg := range legs {
		if err := m.pay(ctx, tx, leg.from, leg.to, leg.amount); err != nil {
			return err
		}
	}
	return m.refund(ctx, tx, r.Buyer, r.Refund)
}

func (m *Marketplace) pay(ctx context.Context, tx *txn, from, to string, amount int64) error {
	if amount == 0 {
		return nil
	}
	gw := m.book.payments
	if err := gw.Transfer(ctx, from, to, amount); err != nil {
		// A payer short of funds is the buyer's problem. The settlement
		// account running dry is a gateway fault.
		if from != domain.SettlementAccount && errors.Is(err, port.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %s cannot pay %d: %w", domain.ErrInsufficientFunds, from, amount, err)
		}
		return fmt.Errorf("%w: transfer %d from %s to %s: %w", domain.ErrPaymentFailed, amount, from, to, err)
	}
	tx.onRollback(func(ctx context.Context) error {
		if err := gw.Transfer(ctx, to, from, amount); err != nil {
			return fmt.Errorf("reverse transfer %d from %s to %s: %w", amount, to, from, err)
		}
		return nil
	})
	return nil
}

func (m *Marketplace) refund(ctx context.Context, tx *txn, buyer string, amount int64) error {
	if amount == 0 {
		return nil
	}
	gw := m.book.payments
	if err := gw.Refund(ctx, buyer, amount); err != nil {
		return fmt.Errorf("%w: refund %d to %s: %w", domain.ErrPaymentFailed, amount, buyer, err)
	}
	tx.onRollback(func(ctx context.Context) error {
		if err := gw.Transfer(ctx, buyer, domain.SettlementAccount, amount); err != nil {
			return errors.Join(fmt.Errorf("reclaim refund %d from %s", amount, buyer), err)
		}
		return nil
	})
	return nil
}
