package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const publishTimeout = 5 * time.Second

// Relay forwards committed events from the book's outbox to an external
// publisher. A single worker drains the outbox so events leave in commit
// order. Publish failures are logged and skipped; subscribers backfill from
// the event store.
type Relay struct {
	queue     <-chan domain.Event
	publisher port.EventPublisher
	log       logrus.FieldLogger
}

func NewRelay(book *Book, publisher port.EventPublisher, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = discardLogger()
	}
	return &Relay{queue: book.Outbox(), publisher: publisher, log: log}
}

// Run blocks until the book is closed and its outbox drained.
func (r *Relay) Run() {
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := r.publisher.Publish(ctx, e); err != nil {
			r.log.WithFields(logrus.Fields{
				"seq":   e.Seq,
				"event": e.Type,
			}).WithError(err).Warn("failed to publish event")
		} else {
			r.log.WithField("seq", e.Seq).Debug("published event")
		}

		cancel()
	}
}
