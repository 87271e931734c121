package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

var (
	_ port.PaymentGateway = (*MemoryGateway)(nil)
	_ port.Funder         = (*MemoryGateway)(nil)
)

// MemoryGateway holds payment balances in process memory.
type MemoryGateway struct {
	mu    sync.Mutex
	funds map[string]int64
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{funds: make(map[string]int64)}
}

func (g *MemoryGateway) Transfer(_ context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d: %w", amount, domain.ErrInvalidAmount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.funds[from] < amount {
		return fmt.Errorf("%s holds %d, needs %d: %w", from, g.funds[from], amount, port.ErrInsufficientFunds)
	}
	g.funds[from] -= amount
	g.funds[to] += amount
	return nil
}

func (g *MemoryGateway) Refund(ctx context.Context, to string, amount int64) error {
	return g.Transfer(ctx, domain.SettlementAccount, to, amount)
}

// Deposit credits amount to id from outside the system.
func (g *MemoryGateway) Deposit(_ context.Context, id string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, domain.ErrInvalidAmount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.funds[id] += amount
	return nil
}

func (g *MemoryGateway) Balance(_ context.Context, id string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.funds[id], nil
}
