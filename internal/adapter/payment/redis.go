package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

// Keys share a hash tag so a transfer touches a single cluster slot.
const fundsKeyPrefix = "{funds}:"

var transferScript = redis.NewScript(`
local from = KEYS[1]
local to = KEYS[2]
local amount = tonumber(ARGV[1])

local current = redis.call('GET', from)
if not current then
	return 0
end

current = tonumber(current)
if current >= amount then
	redis.call('DECRBY', from, amount)
	redis.call('INCRBY', to, amount)
	return 1
end

return 0
`)

var (
	_ port.PaymentGateway = (*RedisGateway)(nil)
	_ port.Funder         = (*RedisGateway)(nil)
)

// RedisGateway keeps payment balances in Redis. Each transfer is one atomic
// script run.
type RedisGateway struct {
	client *redis.Client
}

func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

func fundsKey(id string) string {
	return fundsKeyPrefix + id
}

func (g *RedisGateway) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d: %w", amount, domain.ErrInvalidAmount)
	}

	result, err := transferScript.Run(ctx, g.client, []string{fundsKey(from), fundsKey(to)}, amount).Int()
	if err != nil {
		return err
	}
	if result != 1 {
		return fmt.Errorf("%s short of %d: %w", from, amount, port.ErrInsufficientFunds)
	}
	return nil
}

func (g *RedisGateway) Refund(ctx context.Context, to string, amount int64) error {
	return g.Transfer(ctx, domain.SettlementAccount, to, amount)
}

func (g *RedisGateway) Deposit(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, domain.ErrInvalidAmount)
	}
	return g.client.IncrBy(ctx, fundsKey(id), amount).Err()
}

func (g *RedisGateway) Balance(ctx context.Context, id string) (int64, error) {
	n, err := g.client.Get(ctx, fundsKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
