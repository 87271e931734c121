package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

var (
	_ port.EventStore      = (*MemoryEventStore)(nil)
	_ port.CacheRepository = (*MemoryCache)(nil)
	_ port.EventPublisher  = (*LogPublisher)(nil)
)

// MemoryEventStore keeps the event log in process memory. It backs tests
// and the zero-dependency server mode.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Append(_ context.Context, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := int64(len(s.events))
	for i, e := range events {
		if want := last + int64(i) + 1; e.Seq != want {
			return fmt.Errorf("event seq %d, expected %d: %w", e.Seq, want, port.ErrSequenceConflict)
		}
	}
	for _, e := range events {
		e.Payload = slices.Clone(e.Payload)
		s.events = append(s.events, e)
	}
	return nil
}

func (s *MemoryEventStore) Load(_ context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// seq n lives at index n-1
	start := min(max(afterSeq, 0), int64(len(s.events)))
	end := int64(len(s.events))
	if limit > 0 {
		end = min(end, start+int64(limit))
	}

	out := make([]domain.Event, 0, end-start)
	for _, e := range s.events[start:end] {
		e.Payload = slices.Clone(e.Payload)
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryEventStore) LastSeq(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// MemoryCache is an in-process idempotency store with the same expiry as
// the Redis adapter.
type MemoryCache struct {
	mu      sync.Mutex
	claims  map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time

	// sweepAt is the claim count that triggers eviction of expired keys.
	sweepAt int
}

const minCacheSweep = 1024

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		claims:  make(map[string]time.Time),
		ttl:     idempotencyKeyTTL,
		nowFunc: time.Now,
		sweepAt: minCacheSweep,
	}
}

func (c *MemoryCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if expires, ok := c.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	if len(c.claims) >= c.sweepAt {
		c.sweep(now)
	}
	c.claims[key] = now.Add(c.ttl)
	return true, nil
}

// sweep drops expired claims and doubles the threshold over what survives,
// keeping eviction amortized constant per claim.
func (c *MemoryCache) sweep(now time.Time) {
	for k, expires := range c.claims {
		if !now.Before(expires) {
			delete(c.claims, k)
		}
	}
	c.sweepAt = max(2*len(c.claims), minCacheSweep)
}

func (c *MemoryCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	return nil
}

// LogPublisher stands in for the event stream when no Redis is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e domain.Event) error {
	p.log.WithFields(logrus.Fields{
		"seq":   e.Seq,
		"event": e.Type,
		"actor": e.Actor,
	}).Debug("event")
	return nil
}
