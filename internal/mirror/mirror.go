// Package mirror keeps an eventually-consistent copy of stream state in a
// separate SQLite database for fast reads.
//
// The mirror never decides anything about funds. Apply re-reads the
// authoritative stream from its Source instead of trusting event payloads,
// so applying an event twice or out of order converges on the same row.
// CatchUp replays the ledger's event log from the mirror's cursor, which
// repairs whatever the best-effort dispatcher dropped.
package mirror

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/streampay/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// catchUpBatch is how many events CatchUp reads per round trip.
const catchUpBatch = 256

// ErrNotFound is returned when a stream has not been mirrored.
var ErrNotFound = errors.New("stream not mirrored")

// Source is the authoritative ledger. Implemented by *engine.Engine.
type Source interface {
	GetStream(ctx context.Context, id int64) (ir.Stream, error)
	Events(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error)
}

// Mirror is the off-chain stream cache.
type Mirror struct {
	db     *sql.DB
	src    Source
	logger *slog.Logger
}

// Open creates or opens the mirror database at path.
func Open(path string, src Source, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("mirror %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror schema: %w", err)
	}
	return &Mirror{db: db, src: src, logger: logger}, nil
}

// Close closes the mirror database.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// Name implements dispatch.Sink.
func (m *Mirror) Name() string { return "mirror" }

// Handle implements dispatch.Sink. Events already applied are skipped; a
// gap behind ev (events the mirror never saw) is filled from the log first.
func (m *Mirror) Handle(ctx context.Context, ev ir.Event) error {
	cursor, err := m.Cursor(ctx)
	if err != nil {
		return err
	}
	switch {
	case ev.Seq <= cursor:
		return nil
	case ev.Seq > cursor+1:
		m.logger.Debug("mirror gap, catching up", "cursor", cursor, "seq", ev.Seq)
		_, err := m.CatchUp(ctx)
		return err
	}
	return m.Apply(ctx, ev)
}

// Apply refreshes every stream ev touches and advances the cursor.
func (m *Mirror) Apply(ctx context.Context, ev ir.Event) error {
	for _, id := range touchedStreams(ev) {
		s, err := m.src.GetStream(ctx, id)
		if err != nil {
			return fmt.Errorf("mirror stream %d: %w", id, err)
		}
		if err := m.upsert(ctx, s, ev.Seq); err != nil {
			return err
		}
	}

	_, err := m.db.ExecContext(ctx,
		`UPDATE mirror_cursor SET last_seq = MAX(last_seq, ?) WHERE id = 1`, ev.Seq)
	if err != nil {
		return fmt.Errorf("advance mirror cursor: %w", err)
	}
	return nil
}

// CatchUp applies every event after the cursor and returns how many it
// applied. It stops at the first failing event so the cursor never skips
// one.
func (m *Mirror) CatchUp(ctx context.Context) (int, error) {
	applied := 0
	for {
		cursor, err := m.Cursor(ctx)
		if err != nil {
			return applied, err
		}
		events, err := m.src.Events(ctx, cursor, catchUpBatch)
		if err != nil {
			return applied, fmt.Errorf("read events after %d: %w", cursor, err)
		}
		if len(events) == 0 {
			return applied, nil
		}
		for _, ev := range events {
			if err := m.Apply(ctx, ev); err != nil {
				return applied, err
			}
			applied++
		}
		m.logger.Debug("mirror caught up batch", "from", cursor, "count", len(events))
	}
}

// Cursor returns the seq of the last applied event.
func (m *Mirror) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	if err := m.db.QueryRowContext(ctx, `SELECT last_seq FROM mirror_cursor WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read mirror cursor: %w", err)
	}
	return seq, nil
}

// Get returns the mirrored snapshot of a stream.
func (m *Mirror) Get(ctx context.Context, id int64) (ir.Stream, error) {
	var raw string
	err := m.db.QueryRowContext(ctx, `SELECT snapshot FROM mirror_streams WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Stream{}, ErrNotFound
	}
	if err != nil {
		return ir.Stream{}, fmt.Errorf("read mirrored stream %d: %w", id, err)
	}
	return decode(raw)
}

// List returns mirrored streams where addr is sender or recipient, by id.
func (m *Mirror) List(ctx context.Context, addr ir.Address) ([]ir.Stream, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT snapshot FROM mirror_streams
		WHERE sender = ? OR recipient = ?
		ORDER BY id ASC
	`, string(addr), string(addr))
	if err != nil {
		return nil, fmt.Errorf("list mirrored streams: %w", err)
	}
	defer rows.Close()

	streams := []ir.Stream{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan mirrored stream: %w", err)
		}
		s, err := decode(raw)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

func (m *Mirror) upsert(ctx context.Context, s ir.Stream, seq int64) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stream %d: %w", s.ID, err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO mirror_streams (id, sender, recipient, status, snapshot, applied_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recipient = excluded.recipient,
			status = excluded.status,
			snapshot = excluded.snapshot,
			applied_seq = MAX(applied_seq, excluded.applied_seq)
	`, s.ID, string(s.Sender), string(s.Recipient), string(s.Status), string(snapshot), seq)
	if err != nil {
		return fmt.Errorf("upsert mirrored stream %d: %w", s.ID, err)
	}
	return nil
}

func decode(raw string) (ir.Stream, error) {
	var s ir.Stream
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ir.Stream{}, fmt.Errorf("decode mirrored stream: %w", err)
	}
	return s, nil
}

// touchedStreams lists the stream ids an event changed. A rebind moves
// every stream of the identity, listed in its "streams" attribute.
func touchedStreams(ev ir.Event) []int64 {
	if ev.Kind == ir.EventIdentityRebound {
		var ids []int64
		for _, part := range strings.Split(ev.Attr("streams"), ",") {
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		return ids
	}
	if ev.StreamID != 0 {
		return []int64{ev.StreamID}
	}
	return nil
}
