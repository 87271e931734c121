package port

import (
	"context"
	"errors"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

// ErrSequenceConflict is returned by Append when the first event does not
// directly follow the last stored sequence number.
var ErrSequenceConflict = errors.New("event sequence conflict")

type EventStore interface {
	// Append persists events atomically; either all are stored or none
	Append(ctx context.Context, events ...domain.Event) error

	// Load returns up to limit events with seq > afterSeq in seq order, limit <= 0 means all
	Load(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error)

	// LastSeq returns the highest stored sequence number, 0 when empty
	LastSeq(ctx context.Context) (int64, error)
}

type EventPublisher interface {
	// Publish forwards a committed event to external indexers
	Publish(ctx context.Context, event domain.Event) error
}
