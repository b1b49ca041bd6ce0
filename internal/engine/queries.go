package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/accrual"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
)

// GetStream returns the full stream record.
func (e *Engine) GetStream(ctx context.Context, id int64) (ir.Stream, error) {
	s, err := e.store.ReadStream(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Stream{}, newError(CodeNotFound, id, "stream not found")
	}
	return s, err
}

// StreamView is a stream plus values derived at a point in time.
type StreamView struct {
	ir.Stream
	At             int64             `json:"at"`
	Claimable      ir.Amount         `json:"claimable"`
	Vested         ir.Amount         `json:"vested"`
	ProgressBPS    uint32            `json:"progress_bps"`
	RecipientState ir.RecipientState `json:"recipient_state"`
}

// View returns the stream with its claimable amount, progress and
// recipient state at the engine's current time.
func (e *Engine) View(ctx context.Context, id int64) (StreamView, error) {
	s, err := e.GetStream(ctx, id)
	if err != nil {
		return StreamView{}, err
	}
	now := e.clock.Now()
	v := StreamView{
		Stream:         s,
		At:             now,
		Claimable:      accrual.Claimable(s, now),
		Vested:         accrual.Vested(s, now),
		ProgressBPS:    accrual.Progress(s, now),
		RecipientState: ir.RecipientWallet,
	}
	if s.IdentityAddressed() {
		b, err := e.store.ReadBinding(ctx, s.RecipientIdentityHash)
		switch {
		case err == nil && b.Claimed:
			v.RecipientState = ir.RecipientClaimedIdentity
		case err == nil || errors.Is(err, store.ErrNotFound):
			v.RecipientState = ir.RecipientUnclaimedIdentity
		default:
			return StreamView{}, err
		}
	}
	return v, nil
}

// Claimable returns what the recipient could claim right now.
func (e *Engine) Claimable(ctx context.Context, id int64) (ir.Amount, error) {
	s, err := e.GetStream(ctx, id)
	if err != nil {
		return ir.Amount{}, err
	}
	return accrual.Claimable(s, e.clock.Now()), nil
}

// StreamCount returns the number of streams ever created.
func (e *Engine) StreamCount(ctx context.Context) (int64, error) {
	return e.store.CountStreams(ctx)
}

// Streams pages through streams in id order.
func (e *Engine) Streams(ctx context.Context, afterID int64, limit int) ([]ir.Stream, error) {
	return e.store.ReadStreams(ctx, afterID, limit)
}

// Pool returns the escrow pool.
func (e *Engine) Pool(ctx context.Context) (ir.Pool, error) {
	p, err := e.store.ReadPool(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Pool{}, newError(CodeNotInitialized, 0, "engine not initialized")
	}
	return p, err
}

// FeeCollected returns the protocol fees collected so far.
func (e *Engine) FeeCollected(ctx context.Context) (ir.Amount, error) {
	p, err := e.Pool(ctx)
	if err != nil {
		return ir.Amount{}, err
	}
	return p.FeeCollected, nil
}

// IsInitialized reports whether Initialize has run.
func (e *Engine) IsInitialized(ctx context.Context) (bool, error) {
	_, err := e.store.ReadPool(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OutgoingStreams lists ids of streams funded by addr.
func (e *Engine) OutgoingStreams(ctx context.Context, addr ir.Address) ([]int64, error) {
	return e.store.OutgoingStreamIDs(ctx, addr)
}

// IncomingStreams lists ids of streams addr may currently claim from.
func (e *Engine) IncomingStreams(ctx context.Context, addr ir.Address) ([]int64, error) {
	return e.store.IncomingStreamIDs(ctx, addr)
}

// ResolveIdentity returns the address bound to an identity hash.
func (e *Engine) ResolveIdentity(ctx context.Context, h ir.IdentityHash) (ir.Binding, error) {
	b, err := e.store.ReadBinding(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Binding{}, newError(CodeNotFound, 0, "identity %s is not bound", h)
	}
	return b, err
}

// Balance returns the token balance of addr.
func (e *Engine) Balance(ctx context.Context, addr ir.Address) (ir.Amount, error) {
	return e.store.ReadBalance(ctx, addr)
}

// Events returns audit events with seq > afterSeq.
func (e *Engine) Events(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	return e.store.ReadEvents(ctx, afterSeq, limit)
}

// AuditReport compares the pooled escrow against what active streams owe.
type AuditReport struct {
	EscrowBalance ir.Amount `json:"escrow_balance"`
	Outstanding   ir.Amount `json:"outstanding"` // sum of total - claimed over ACTIVE streams
	FeeCollected  ir.Amount `json:"fee_collected"`
	ActiveStreams int       `json:"active_streams"`
	Balanced      bool      `json:"balanced"`
}

// Audit checks escrow conservation in one consistent read.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	var rep AuditReport
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		pool, err := tx.GetPool(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeNotInitialized, 0, "engine not initialized")
		}
		if err != nil {
			return err
		}
		active, err := tx.ActiveStreams(ctx)
		if err != nil {
			return err
		}
		var outstanding ir.Amount
		for _, s := range active {
			if outstanding, err = outstanding.Add(s.Remaining()); err != nil {
				return fmt.Errorf("audit: %w", err)
			}
		}
		rep = AuditReport{
			EscrowBalance: pool.EscrowBalance,
			Outstanding:   outstanding,
			FeeCollected:  pool.FeeCollected,
			ActiveStreams: len(active),
			Balanced:      pool.EscrowBalance.Cmp(outstanding) == 0,
		}
		return nil
	})
	if err == nil && !rep.Balanced {
		e.logger.Error("escrow out of balance",
			"escrow", rep.EscrowBalance,
			"outstanding", rep.Outstanding,
			"event", "conservation_violation",
		)
	}
	return rep, err
}
