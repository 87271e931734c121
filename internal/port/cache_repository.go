package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims key, returns false if it was already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claim so a rejected request can be resubmitted
	ReleaseIdempotency(ctx context.Context, key string) error
}
