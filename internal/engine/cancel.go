package engine

import (
	"context"
	"fmt"

	"github.com/roach88/streampay/internal/accrual"
	"github.com/roach88/streampay/internal/ir"
)

// CancelRequest asks to end a stream early.
type CancelRequest struct {
	Caller   ir.Caller
	StreamID int64
}

// CancelResult reports the terminal split of a cancelled stream.
type CancelResult struct {
	StreamID    int64      `json:"stream_id"`
	Sender      ir.Address `json:"sender"`
	Recipient   ir.Address `json:"recipient"`
	ToRecipient ir.Amount  `json:"to_recipient"`
	ToSender    ir.Amount  `json:"to_sender"`
}

// Cancel ends an ACTIVE stream. What has accrued goes to the recipient and
// the never-to-be-earned remainder returns to the sender, both in the same
// transaction.
//
// The split is a terminal disbursement, not a claim: claimed_amount and
// last_claim_time keep their pre-cancel values.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	var res CancelResult
	err := e.update(ctx, "cancel", func(u *unit) error {
		pool, err := u.pool(ctx)
		if err != nil {
			return err
		}
		s, err := u.stream(ctx, req.StreamID)
		if err != nil {
			return err
		}
		if err := e.authorize(req.Caller, s.Sender, s.ID, "sender"); err != nil {
			return err
		}
		if s.Status != ir.StatusActive {
			return newError(CodeInvalidState, s.ID, "stream is %s", s.Status)
		}

		toRecipient, toSender := accrual.Split(s, u.now)
		owed := s.Remaining()
		if pool.EscrowBalance.Cmp(owed) < 0 {
			return newError(CodeInsufficientPoolFunds, s.ID,
				"escrow %s cannot cover cancellation of %s", pool.EscrowBalance, owed)
		}
		pool.EscrowBalance, _ = pool.EscrowBalance.Sub(owed)
		if err := u.tx.UpdatePool(ctx, pool); err != nil {
			return err
		}
		if err := u.credit(ctx, s.Recipient, toRecipient); err != nil {
			return err
		}
		if err := u.credit(ctx, s.Sender, toSender); err != nil {
			return err
		}

		s.Status = ir.StatusCancelled
		if err := u.tx.UpdateStream(ctx, s); err != nil {
			return fmt.Errorf("cancel stream %d: %w", s.ID, err)
		}

		_, err = u.emit(ctx, ir.EventStreamCancelled, s.ID, callerAttrs(map[string]string{
			"sender":       s.Sender.String(),
			"recipient":    s.Recipient.String(),
			"to_recipient": toRecipient.String(),
			"to_sender":    toSender.String(),
		}, req.Caller))
		if err != nil {
			return err
		}

		res = CancelResult{
			StreamID:    s.ID,
			Sender:      s.Sender,
			Recipient:   s.Recipient,
			ToRecipient: toRecipient,
			ToSender:    toSender,
		}
		return nil
	})
	return res, err
}
