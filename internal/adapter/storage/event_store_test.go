package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

func newTestEvent(t *testing.T, seq int64) domain.Event {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, int(seq), time.UTC)
	e, err := domain.NewEvent(domain.EventCreditMinted, "owner", at, domain.CreditMinted{
		BatchID:   seq,
		ProjectID: "mangrove-01",
		Amount:    100 * seq,
		To:        "alice",
		Vintage:   2024,
		Location:  "Sundarbans",
	})
	require.NoError(t, err)
	e.Seq = seq
	return e
}

// testEventStore exercises the port.EventStore contract against store,
// which must be empty.
func testEventStore(t *testing.T, store port.EventStore) {
	ctx := context.Background()

	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), last)

	events, err := store.Load(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)

	require.NoError(t, store.Append(ctx, newTestEvent(t, 1)))
	require.NoError(t, store.Append(ctx, newTestEvent(t, 2), newTestEvent(t, 3)))
	require.NoError(t, store.Append(ctx))

	err = store.Append(ctx, newTestEvent(t, 3))
	assert.ErrorIs(t, err, port.ErrSequenceConflict)
	err = store.Append(ctx, newTestEvent(t, 5))
	assert.ErrorIs(t, err, port.ErrSequenceConflict)

	// a batch with a gap is rejected as a whole
	err = store.Append(ctx, newTestEvent(t, 4), newTestEvent(t, 6))
	assert.ErrorIs(t, err, port.ErrSequenceConflict)

	last, err = store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	all, err := store.Load(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		want := newTestEvent(t, int64(i+1))
		assert.Equal(t, want.Seq, e.Seq)
		assert.Equal(t, want.Type, e.Type)
		assert.Equal(t, want.Actor, e.Actor)
		assert.True(t, want.OccurredAt.Equal(e.OccurredAt), "occurred_at %v", e.OccurredAt)
		assert.JSONEq(t, string(want.Payload), string(e.Payload))
		assert.NotEmpty(t, e.ID)
	}

	page, err := store.Load(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].Seq)

	p, err := domain.DecodePayload[domain.CreditMinted](page[0])
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.Amount)

	page, err = store.Load(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}
