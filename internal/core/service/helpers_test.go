package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const (
	owner    = "owner"
	treasury = "treasury"
)

var errStoreDown = errors.New("store down")

// Mock EventStore
type mockEventStore struct {
	mu       sync.Mutex
	events   []domain.Event
	failNext bool
}

func (m *mockEventStore) Append(_ context.Context, events ...domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return errStoreDown
	}
	if len(events) > 0 && events[0].Seq != int64(len(m.events))+1 {
		return port.ErrSequenceConflict
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Event
	for _, e := range m.events {
		if e.Seq > afterSeq {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockEventStore) LastSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *mockEventStore) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// Mock PaymentGateway
type mockPayments struct {
	mu       sync.Mutex
	funds    map[string]int64
	failTo   string
	failFrom string
}

func newMockPayments() *mockPayments {
	return &mockPayments{funds: make(map[string]int64)}
}

func (m *mockPayments) Transfer(_ context.Context, from, to string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.failTo || from == m.failFrom {
		return errors.New("payment network unavailable")
	}
	if m.funds[from] < amount {
		return port.ErrInsufficientFunds
	}
	m.funds[from] -= amount
	m.funds[to] += amount
	return nil
}

func (m *mockPayments) Refund(ctx context.Context, to string, amount int64) error {
	return m.Transfer(ctx, domain.SettlementAccount, to, amount)
}

func (m *mockPayments) balance(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.funds[id]
}

func (m *mockPayments) deposit(id string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[id] += amount
}

type fixture struct {
	book     *Book
	ledger   *CreditLedger
	market   *Marketplace
	store    *mockEventStore
	payments *mockPayments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &mockEventStore{}
	payments := newMockPayments()
	book, err := NewBook(Config{Owner: owner, Treasury: treasury, FeeBasisPoints: 250}, store, payments,
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	t.Cleanup(book.Close)
	return &fixture{
		book:     book,
		ledger:   NewCreditLedger(book),
		market:   NewMarketplace(book),
		store:    store,
		payments: payments,
	}
}

func (f *fixture) mint(t *testing.T, to string, amount int64) int64 {
	t.Helper()
	id, err := f.ledger.Mint(context.Background(), owner, to, amount, "mangrove-01", 2024, "Sundarbans")
	require.NoError(t, err)
	return id
}

func (f *fixture) list(t *testing.T, seller string, amount, price int64) int64 {
	t.Helper()
	id, err := f.market.CreateListing(context.Background(), seller, amount, price, 2024, "mangrove-01")
	require.NoError(t, err)
	return id
}

// requireConserved checks the conservation law from the public views.
func (f *fixture) requireConserved(t *testing.T, holders ...string) {
	t.Helper()
	s := f.ledger.Supply()
	var held int64
	for _, h := range holders {
		held += f.ledger.Balance(h)
	}
	var escrowed int64
	for _, l := range f.market.ActiveListings() {
		escrowed += l.RemainingAmount
	}
	require.Equal(t, s.Escrowed, escrowed)
	require.Equal(t, f.ledger.Balance(domain.EscrowAccount), escrowed)
	require.Equal(t, s.Minted, held+s.Retired+escrowed)
}
