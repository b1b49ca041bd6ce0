package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

// ClaimIntent records the outcome of a keyed claim so a retried request
// returns the original result instead of paying twice.
type ClaimIntent struct {
	Key       string
	StreamID  int64
	Caller    ir.Address
	Amount    ir.Amount
	ClaimedAt int64
	EventSeq  int64
}

// GetClaimIntent looks up a claim intent by key.
// Returns ErrNotFound if the key was never used.
func (t *Tx) GetClaimIntent(ctx context.Context, key string) (ClaimIntent, error) {
	var (
		ci             ClaimIntent
		caller, amount string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT intent_key, stream_id, caller, amount, claimed_at, event_seq
		FROM claim_intents WHERE intent_key = ?
	`, key).Scan(&ci.Key, &ci.StreamID, &caller, &amount, &ci.ClaimedAt, &ci.EventSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return ClaimIntent{}, ErrNotFound
	}
	if err != nil {
		return ClaimIntent{}, fmt.Errorf("read claim intent: %w", err)
	}
	ci.Caller = ir.Address(caller)
	if err := parseAmount(amount, &ci.Amount); err != nil {
		return ClaimIntent{}, fmt.Errorf("claim intent %q: %w", key, err)
	}
	return ci, nil
}

// PutClaimIntent records a completed claim.
// Returns ErrAlreadyExists if the key is taken.
func (t *Tx) PutClaimIntent(ctx context.Context, ci ClaimIntent) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO claim_intents (intent_key, stream_id, caller, amount, claimed_at, event_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_key) DO NOTHING
	`, ci.Key, ci.StreamID, string(ci.Caller), ci.Amount.String(), ci.ClaimedAt, ci.EventSeq)
	if err != nil {
		return fmt.Errorf("put claim intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put claim intent: rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}
