package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/carbon-exchange/internal/adapter/payment"
	"github.com/rl1809/carbon-exchange/internal/adapter/storage"
	"github.com/rl1809/carbon-exchange/internal/core/service"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const testOwner = "owner"

type stubOracle struct {
	assessment port.Assessment
}

func (o stubOracle) Assess(context.Context, string, string) (port.Assessment, error) {
	return o.assessment, nil
}

type testExchange struct {
	*Exchange
	payments *payment.MemoryGateway
}

func newTestExchange(t *testing.T) testExchange {
	t.Helper()

	events := storage.NewMemoryEventStore()
	payments := payment.NewMemoryGateway()
	book, err := service.NewBook(service.Config{
		Owner:          testOwner,
		Treasury:       "treasury",
		FeeBasisPoints: 250,
	}, events, payments, service.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	t.Cleanup(book.Close)
	go func() {
		for range book.Outbox() {
		}
	}()

	ledger := service.NewCreditLedger(book)
	return testExchange{
		Exchange: &Exchange{
			Ledger: ledger,
			Market: service.NewMarketplace(book),
			Review: service.NewIssuerReview(ledger, stubOracle{port.Assessment{Approved: true, Confidence: 0.95}}, 0.8, nil),
			Guard:  service.NewRequestGuard(storage.NewMemoryCache(), nil),
			Events: events,
			Funds:  payments,
		},
		payments: payments,
	}
}

func (x testExchange) deposit(t *testing.T, id string, amount int64) {
	t.Helper()
	require.NoError(t, x.payments.Deposit(context.Background(), id, amount))
}
