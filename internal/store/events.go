package store

import (
	"context"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

// AppendEvent assigns the next sequence number and content-addressed ID to
// e, then writes it. Seq and ID on e are overwritten.
//
// Sequence numbers are dense and start at 1. Because writers serialise at
// BEGIN IMMEDIATE, MAX(seq)+1 cannot race.
func (t *Tx) AppendEvent(ctx context.Context, e *ir.Event) error {
	var last int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&last); err != nil {
		return fmt.Errorf("append event: read seq: %w", err)
	}
	seq := last + 1

	id, err := ir.EventID(seq, e.Kind, e.StreamID, e.At, e.Attrs)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	attrs, err := ir.MarshalCanonical(e.Attrs)
	if err != nil {
		return fmt.Errorf("append event: attrs: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, stream_id, at, attrs)
		VALUES (?, ?, ?, ?, ?, ?)
	`, seq, id, string(e.Kind), e.StreamID, e.At, string(attrs))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Kind, err)
	}

	e.Seq = seq
	e.ID = id
	return nil
}

// ReadEvents returns events with seq > afterSeq in ascending order.
// A non-positive limit returns all remaining events.
func (s *Store) ReadEvents(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, stream_id, at, attrs
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var (
			e           ir.Event
			kind, attrs string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.StreamID, &e.At, &attrs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = ir.EventKind(kind)
		if e.Attrs, err = ir.UnmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("event %d attrs: %w", e.Seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest event sequence number, or 0 if none exist.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}
