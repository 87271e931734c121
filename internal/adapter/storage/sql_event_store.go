package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const (
	insertEventSQL = `INSERT INTO events (seq, id, type, actor, occurred_at, payload) VALUES (?, ?, ?, ?, ?, ?)`
	loadEventsSQL  = `SELECT seq, id, type, actor, occurred_at, payload FROM events WHERE seq > ? ORDER BY seq`
	lastSeqSQL     = `SELECT COALESCE(MAX(seq), 0) FROM events`
)

// sqlEventStore is the event table shared by the MySQL and SQLite adapters.
// Timestamps are stored as unix nanoseconds so both drivers round-trip them
// exactly.
type sqlEventStore struct {
	db *sql.DB

	schema      []string
	lockLastSeq string
	isDuplicate func(error) bool
}

// Migrate creates the events table if needed.
func (s *sqlEventStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlEventStore) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx, s.lockLastSeq).Scan(&last); err != nil {
		return fmt.Errorf("read last seq: %w", err)
	}

	for i, e := range events {
		if want := last + int64(i) + 1; e.Seq != want {
			return fmt.Errorf("event seq %d, expected %d: %w", e.Seq, want, port.ErrSequenceConflict)
		}
		_, err := tx.ExecContext(ctx, insertEventSQL,
			e.Seq, e.ID, string(e.Type), e.Actor, e.OccurredAt.UTC().UnixNano(), string(e.Payload),
		)
		if err != nil {
			if s.isDuplicate(err) {
				return fmt.Errorf("event seq %d: %w", e.Seq, port.ErrSequenceConflict)
			}
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

func (s *sqlEventStore) Load(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	query, args := loadEventsSQL, []any{afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, int64(limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			typ     string
			nanos   int64
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.Actor, &nanos, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.OccurredAt = time.Unix(0, nanos).UTC()
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *sqlEventStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, lastSeqSQL).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

func (s *sqlEventStore) Close() error {
	return s.db.Close()
}
