package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

const streamColumns = `id, sender, recipient, identity_hash, total_amount, claimed_amount,
	rate_per_second, start_time, end_time, last_claim_time, status, message, created_at`

// scanStream reads one stream row in streamColumns order.
func scanStream(row rowScanner) (ir.Stream, error) {
	var (
		s                    ir.Stream
		sender, recipient    string
		hash, status         string
		total, claimed, rate string
	)
	err := row.Scan(&s.ID, &sender, &recipient, &hash, &total, &claimed,
		&rate, &s.StartTime, &s.EndTime, &s.LastClaimTime, &status, &s.Message, &s.CreatedAt)
	if err != nil {
		return ir.Stream{}, err
	}

	s.Sender = ir.Address(sender)
	s.Recipient = ir.Address(recipient)
	s.Status = ir.Status(status)
	if s.RecipientIdentityHash, err = ir.ParseIdentityHash(hash); err != nil {
		return ir.Stream{}, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if err := parseAmount(total, &s.TotalAmount); err != nil {
		return ir.Stream{}, fmt.Errorf("stream %d total: %w", s.ID, err)
	}
	if err := parseAmount(claimed, &s.ClaimedAmount); err != nil {
		return ir.Stream{}, fmt.Errorf("stream %d claimed: %w", s.ID, err)
	}
	if err := parseAmount(rate, &s.RatePerSecond); err != nil {
		return ir.Stream{}, fmt.Errorf("stream %d rate: %w", s.ID, err)
	}
	return s, nil
}

func getStream(ctx context.Context, q queryer, id int64) (ir.Stream, error) {
	row := q.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, id)
	s, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Stream{}, ErrNotFound
	}
	if err != nil {
		return ir.Stream{}, fmt.Errorf("read stream %d: %w", id, err)
	}
	return s, nil
}

// queryStreams runs SELECT ... WHERE where ORDER BY id ASC LIMIT limit.
// A negative limit means no limit.
func queryStreams(ctx context.Context, q queryer, where string, limit int, args ...any) ([]ir.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE ` + where + ` ORDER BY id ASC LIMIT ?`
	rows, err := q.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	streams := []ir.Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return streams, nil
}

func queryStreamIDs(ctx context.Context, q queryer, column string, addr ir.Address) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM streams WHERE `+column+` = ? ORDER BY id ASC`, string(addr))
	if err != nil {
		return nil, fmt.Errorf("query stream ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream ids: %w", err)
	}
	return ids, nil
}

// InsertStream appends a new stream and returns its assigned id.
// The ID field of s is ignored.
func (t *Tx) InsertStream(ctx context.Context, s ir.Stream) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO streams
		(sender, recipient, identity_hash, total_amount, claimed_amount, rate_per_second,
		 start_time, end_time, last_claim_time, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(s.Sender),
		string(s.Recipient),
		s.RecipientIdentityHash.String(),
		s.TotalAmount.String(),
		s.ClaimedAmount.String(),
		s.RatePerSecond.String(),
		s.StartTime,
		s.EndTime,
		s.LastClaimTime,
		string(s.Status),
		s.Message,
		s.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert stream: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert stream: last insert id: %w", err)
	}
	return id, nil
}

// GetStream reads a stream inside the transaction.
// Returns ErrNotFound if the id does not exist.
func (t *Tx) GetStream(ctx context.Context, id int64) (ir.Stream, error) {
	return getStream(ctx, t.tx, id)
}

// UpdateStream writes the mutable fields of s: recipient, claimed_amount,
// last_claim_time and status. Immutable columns are never rewritten.
func (t *Tx) UpdateStream(ctx context.Context, s ir.Stream) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE streams
		SET recipient = ?, claimed_amount = ?, last_claim_time = ?, status = ?
		WHERE id = ?
	`,
		string(s.Recipient),
		s.ClaimedAmount.String(),
		s.LastClaimTime,
		string(s.Status),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update stream %d: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stream %d: rows affected: %w", s.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StreamsByIdentity returns every stream addressed to the identity hash.
func (t *Tx) StreamsByIdentity(ctx context.Context, h ir.IdentityHash) ([]ir.Stream, error) {
	return queryStreams(ctx, t.tx, `identity_hash = ?`, -1, h.String())
}

// ActiveStreams returns all ACTIVE streams. Used for consistency checks.
func (t *Tx) ActiveStreams(ctx context.Context) ([]ir.Stream, error) {
	return queryStreams(ctx, t.tx, `status = ?`, -1, string(ir.StatusActive))
}

// ReadStream retrieves a stream by id.
// Returns ErrNotFound if the id does not exist.
func (s *Store) ReadStream(ctx context.Context, id int64) (ir.Stream, error) {
	return getStream(ctx, s.db, id)
}

// ReadStreams returns streams with id in (afterID, afterID+limit], ascending.
func (s *Store) ReadStreams(ctx context.Context, afterID int64, limit int) ([]ir.Stream, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryStreams(ctx, s.db, `id > ?`, limit, afterID)
}

// OutgoingStreamIDs lists ids of streams funded by addr, ascending.
func (s *Store) OutgoingStreamIDs(ctx context.Context, addr ir.Address) ([]int64, error) {
	return queryStreamIDs(ctx, s.db, "sender", addr)
}

// IncomingStreamIDs lists ids of streams currently claimable by addr, ascending.
func (s *Store) IncomingStreamIDs(ctx context.Context, addr ir.Address) ([]int64, error) {
	return queryStreamIDs(ctx, s.db, "recipient", addr)
}

// StreamsByIdentity returns every stream addressed to the identity hash.
func (s *Store) StreamsByIdentity(ctx context.Context, h ir.IdentityHash) ([]ir.Stream, error) {
	return queryStreams(ctx, s.db, `identity_hash = ?`, -1, h.String())
}

// CountStreams returns the total number of streams ever created.
func (s *Store) CountStreams(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count streams: %w", err)
	}
	return n, nil
}
