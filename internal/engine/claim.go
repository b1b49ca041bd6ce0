package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/accrual"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
)

// ClaimRequest asks for a payout from a stream.
type ClaimRequest struct {
	Caller   ir.Caller
	StreamID int64

	// Amount of zero claims everything available; anything above the
	// claimable amount is capped rather than rejected.
	Amount ir.Amount

	// IntentKey, when set, makes the claim idempotent: a retry with the
	// same key, stream and caller returns the first result without paying
	// again.
	IntentKey string
}

// ClaimResult reports a claim.
type ClaimResult struct {
	StreamID      int64      `json:"stream_id"`
	Recipient     ir.Address `json:"recipient"`
	Amount        ir.Amount  `json:"amount"`
	ClaimedAmount ir.Amount  `json:"claimed_amount"`
	Status        ir.Status  `json:"status"`
	Replayed      bool       `json:"replayed"`
	EventSeq      int64      `json:"event_seq"`
}

// Claim pays the recipient what has accrued since the last claim, bounded by
// req.Amount when positive.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	var res ClaimResult
	err := e.update(ctx, "claim", func(u *unit) error {
		var err error
		res, err = e.claim(ctx, u, req)
		return err
	})
	return res, err
}

func (e *Engine) claim(ctx context.Context, u *unit, req ClaimRequest) (ClaimResult, error) {
	pool, err := u.pool(ctx)
	if err != nil {
		return ClaimResult{}, err
	}

	if req.IntentKey != "" {
		res, replayed, err := replayIntent(ctx, u, req)
		if err != nil || replayed {
			return res, err
		}
	}

	s, err := u.stream(ctx, req.StreamID)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := e.authorize(req.Caller, s.Recipient, s.ID, "recipient"); err != nil {
		return ClaimResult{}, err
	}
	switch s.Status {
	case ir.StatusActive:
	case ir.StatusCompleted:
		return ClaimResult{}, newError(CodeNothingToClaim, s.ID, "stream fully claimed")
	default:
		return ClaimResult{}, newError(CodeInvalidState, s.ID, "stream is %s", s.Status)
	}
	if err := requireClaimedRecipient(ctx, u, s); err != nil {
		return ClaimResult{}, err
	}

	claimable := accrual.Claimable(s, u.now)
	if claimable.IsZero() {
		return ClaimResult{}, newError(CodeNothingToClaim, s.ID, "nothing to claim")
	}
	actual := claimable
	if !req.Amount.IsZero() && req.Amount.Cmp(claimable) <= 0 {
		actual = req.Amount
	}

	if pool.EscrowBalance.Cmp(actual) < 0 {
		return ClaimResult{}, newError(CodeInsufficientPoolFunds, s.ID,
			"escrow %s cannot cover claim of %s", pool.EscrowBalance, actual)
	}
	pool.EscrowBalance, _ = pool.EscrowBalance.Sub(actual)
	if err := u.tx.UpdatePool(ctx, pool); err != nil {
		return ClaimResult{}, err
	}
	if err := u.credit(ctx, s.Recipient, actual); err != nil {
		return ClaimResult{}, err
	}

	if s.ClaimedAmount, err = s.ClaimedAmount.Add(actual); err != nil {
		return ClaimResult{}, fmt.Errorf("claimed overflow: %w", err)
	}
	s.LastClaimTime = u.now
	if s.ClaimedAmount.Cmp(s.TotalAmount) >= 0 {
		s.Status = ir.StatusCompleted
	}
	if err := u.tx.UpdateStream(ctx, s); err != nil {
		return ClaimResult{}, err
	}

	ev, err := u.emit(ctx, ir.EventStreamClaimed, s.ID, callerAttrs(map[string]string{
		"recipient":      s.Recipient.String(),
		"amount":         actual.String(),
		"claimed_amount": s.ClaimedAmount.String(),
		"status":         string(s.Status),
	}, req.Caller))
	if err != nil {
		return ClaimResult{}, err
	}

	if req.IntentKey != "" {
		err := u.tx.PutClaimIntent(ctx, store.ClaimIntent{
			Key:       req.IntentKey,
			StreamID:  s.ID,
			Caller:    req.Caller.Address,
			Amount:    actual,
			ClaimedAt: u.now,
			EventSeq:  ev.Seq,
		})
		if err != nil {
			return ClaimResult{}, err
		}
	}

	return ClaimResult{
		StreamID:      s.ID,
		Recipient:     s.Recipient,
		Amount:        actual,
		ClaimedAmount: s.ClaimedAmount,
		Status:        s.Status,
		EventSeq:      ev.Seq,
	}, nil
}

// requireClaimedRecipient rejects payouts to a placeholder address, which
// nobody can spend from.
func requireClaimedRecipient(ctx context.Context, u *unit, s ir.Stream) error {
	if !s.IdentityAddressed() {
		return nil
	}
	b, ok, err := u.reg.Lookup(ctx, s.RecipientIdentityHash)
	if err != nil {
		return err
	}
	if !ok || !b.Claimed {
		return newError(CodeInvalidState, s.ID, "recipient identity not yet claimed; rebind first")
	}
	return nil
}

// replayIntent returns the recorded result for a previously used intent key.
func replayIntent(ctx context.Context, u *unit, req ClaimRequest) (ClaimResult, bool, error) {
	ci, err := u.tx.GetClaimIntent(ctx, req.IntentKey)
	if errors.Is(err, store.ErrNotFound) {
		return ClaimResult{}, false, nil
	}
	if err != nil {
		return ClaimResult{}, false, err
	}
	if ci.StreamID != req.StreamID || ci.Caller != req.Caller.Address {
		return ClaimResult{}, false, newError(CodeInvalidArgument, req.StreamID,
			"intent key %q already used for another claim", req.IntentKey)
	}

	s, err := u.stream(ctx, ci.StreamID)
	if err != nil {
		return ClaimResult{}, false, err
	}
	return ClaimResult{
		StreamID:      s.ID,
		Recipient:     s.Recipient,
		Amount:        ci.Amount,
		ClaimedAmount: s.ClaimedAmount,
		Status:        s.Status,
		Replayed:      true,
		EventSeq:      ci.EventSeq,
	}, true, nil
}
