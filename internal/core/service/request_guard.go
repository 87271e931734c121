package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

// RequestGuard makes client retries safe: an operation submitted under the
// same idempotency key runs at most once successfully.
type RequestGuard struct {
	cache port.CacheRepository
	log   logrus.FieldLogger
}

func NewRequestGuard(cache port.CacheRepository, log logrus.FieldLogger) *RequestGuard {
	if log == nil {
		log = discardLogger()
	}
	return &RequestGuard{cache: cache, log: log}
}

// Do claims key for caller and runs fn. A claimed key fails with
// ErrDuplicateRequest. When fn fails the claim is released so a corrected
// request can be resubmitted under the same key. An empty key runs fn
// unguarded.
func (g *RequestGuard) Do(ctx context.Context, caller, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return fn(ctx)
	}
	idempotencyKey := fmt.Sprintf("request:%s:%s", caller, key)

	ok, err := g.cache.SetIdempotency(ctx, idempotencyKey)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("key %q: %w", key, domain.ErrDuplicateRequest)
	}

	if err := fn(ctx); err != nil {
		if relErr := g.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
			g.log.WithFields(logrus.Fields{
				"caller": caller,
				"key":    key,
			}).WithError(relErr).Warn("failed to release idempotency key")
		}
		return err
	}
	return nil
}
