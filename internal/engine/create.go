package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/roach88/streampay/internal/accrual"
	"github.com/roach88/streampay/internal/identity"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/registry"
	"github.com/roach88/streampay/internal/store"
)

// Initialize creates the escrow pool with the configured fee and admin.
// A second call fails with INVALID_STATE.
func (e *Engine) Initialize(ctx context.Context, admin ir.Address) (ir.Pool, error) {
	if err := checkAddress("admin", admin); err != nil {
		return ir.Pool{}, err
	}
	if e.feeBPS > accrual.BasisPoints {
		return ir.Pool{}, newError(CodeInvalidArgument, 0, "fee_bps %d exceeds %d", e.feeBPS, accrual.BasisPoints)
	}

	var pool ir.Pool
	err := e.update(ctx, "initialize", func(u *unit) error {
		pool = ir.Pool{FeeBPS: e.feeBPS, Admin: admin, InitializedAt: u.now}
		if err := u.tx.InitPool(ctx, pool); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return newError(CodeInvalidState, 0, "engine already initialized")
			}
			return err
		}
		_, err := u.emit(ctx, ir.EventEngineInitialized, 0, map[string]string{
			"admin":   admin.String(),
			"fee_bps": itoa(int64(e.feeBPS)),
		})
		return err
	})
	return pool, err
}

// Fund credits amount to addr from outside the engine. It is the token
// faucet for local operation; no account-to-account transfer exists.
func (e *Engine) Fund(ctx context.Context, addr ir.Address, amount ir.Amount) (ir.Amount, error) {
	if err := checkAddress("address", addr); err != nil {
		return ir.Amount{}, err
	}
	if amount.IsZero() {
		return ir.Amount{}, newError(CodeInvalidArgument, 0, "amount must be positive")
	}

	var balance ir.Amount
	err := e.update(ctx, "fund", func(u *unit) error {
		if _, err := u.pool(ctx); err != nil {
			return err
		}
		if err := u.credit(ctx, addr, amount); err != nil {
			return err
		}
		var err error
		if balance, err = u.tx.GetBalance(ctx, addr); err != nil {
			return err
		}
		_, err = u.emit(ctx, ir.EventAccountFunded, 0, map[string]string{
			"address": addr.String(),
			"amount":  amount.String(),
			"balance": balance.String(),
		})
		return err
	})
	return balance, err
}

// CreateRequest describes a new stream.
type CreateRequest struct {
	Sender ir.Address `validate:"required"`

	// Recipient is a wallet address ("0x...") or an identity such as
	// "email:alice@example.com", "alice@example.com", "@alice" or
	// "github:alice". See identity.ParseRecipient.
	Recipient string `validate:"required"`

	// Amount is debited from the sender; the protocol fee comes out of it.
	Amount ir.Amount

	// Duration of accrual in seconds.
	Duration int64 `validate:"gt=0"`

	// StartTime defaults to now when nil.
	StartTime *int64

	Message string
}

// CreateResult reports the stream a Create produced.
type CreateResult struct {
	StreamID      int64           `json:"stream_id"`
	Recipient     ir.Address      `json:"recipient"`
	IdentityHash  ir.IdentityHash `json:"identity_hash,omitempty"`
	Placeholder   bool            `json:"placeholder"` // recipient is an unclaimed placeholder
	TotalAmount   ir.Amount       `json:"total_amount"`
	Fee           ir.Amount       `json:"fee"`
	RatePerSecond ir.Amount       `json:"rate_per_second"`
	StartTime     int64           `json:"start_time"`
	EndTime       int64           `json:"end_time"`
}

// Create escrows req.Amount from the sender into a new ACTIVE stream.
//
// All validation happens before any fund movement. An identity recipient is
// resolved through the registry; an unseen identity gets a fresh
// placeholder binding. A zero rate (total below duration) is accepted: the
// stream stays ACTIVE and the sender can recover it through Cancel.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := e.validateCreate(req); err != nil {
		return CreateResult{}, err
	}
	rcpt, err := identity.ParseRecipient(req.Recipient)
	if err != nil {
		return CreateResult{}, newError(CodeInvalidArgument, 0, "%v", err)
	}

	var res CreateResult
	err = e.update(ctx, "create", func(u *unit) error {
		pool, err := u.pool(ctx)
		if err != nil {
			return err
		}

		start := u.now
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if start > math.MaxInt64-req.Duration {
			return newError(CodeInvalidArgument, 0, "start_time + duration overflows")
		}

		fee, err := accrual.Fee(req.Amount, pool.FeeBPS)
		if err != nil {
			return newError(CodeInvalidArgument, 0, "amount too large: %v", err)
		}
		total, err := req.Amount.Sub(fee)
		if err != nil {
			return fmt.Errorf("fee exceeds amount: %w", err)
		}

		recipient, hash, placeholder, err := e.resolveRecipient(ctx, u, rcpt)
		if err != nil {
			return err
		}

		balance, err := u.tx.GetBalance(ctx, req.Sender)
		if err != nil {
			return err
		}
		if balance.Cmp(req.Amount) < 0 {
			return newError(CodeInsufficientBalance, 0, "sender balance %s below amount %s", balance, req.Amount)
		}
		balance, _ = balance.Sub(req.Amount)
		if err := u.tx.SetBalance(ctx, req.Sender, balance); err != nil {
			return err
		}

		if pool.EscrowBalance, err = pool.EscrowBalance.Add(total); err != nil {
			return fmt.Errorf("escrow overflow: %w", err)
		}
		if pool.FeeCollected, err = pool.FeeCollected.Add(fee); err != nil {
			return fmt.Errorf("fee overflow: %w", err)
		}
		if err := u.tx.UpdatePool(ctx, pool); err != nil {
			return err
		}

		s := ir.Stream{
			Sender:                req.Sender,
			Recipient:             recipient,
			RecipientIdentityHash: hash,
			TotalAmount:           total,
			RatePerSecond:         accrual.RatePerSecond(total, req.Duration),
			StartTime:             start,
			EndTime:               start + req.Duration,
			LastClaimTime:         start,
			Status:                ir.StatusActive,
			Message:               req.Message,
			CreatedAt:             u.now,
		}
		if s.ID, err = u.tx.InsertStream(ctx, s); err != nil {
			return err
		}

		channel := "wallet"
		if rcpt.Identity != nil {
			channel = rcpt.Identity.Channel()
		}
		_, err = u.emit(ctx, ir.EventStreamCreated, s.ID, map[string]string{
			"sender":          s.Sender.String(),
			"recipient":       s.Recipient.String(),
			"identity_hash":   s.RecipientIdentityHash.String(),
			"channel":         channel,
			"total_amount":    s.TotalAmount.String(),
			"fee":             fee.String(),
			"rate_per_second": s.RatePerSecond.String(),
			"duration":        itoa(req.Duration),
			"start_time":      itoa(s.StartTime),
			"end_time":        itoa(s.EndTime),
			"message":         s.Message,
		})
		if err != nil {
			return err
		}

		res = CreateResult{
			StreamID:      s.ID,
			Recipient:     s.Recipient,
			IdentityHash:  s.RecipientIdentityHash,
			Placeholder:   placeholder,
			TotalAmount:   s.TotalAmount,
			Fee:           fee,
			RatePerSecond: s.RatePerSecond,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
		}
		return nil
	})
	return res, err
}

func (e *Engine) validateCreate(req CreateRequest) error {
	if err := e.validate.Struct(req); err != nil {
		return newError(CodeInvalidArgument, 0, "%v", err)
	}
	if err := checkAddress("sender", req.Sender); err != nil {
		return err
	}
	if req.Amount.IsZero() {
		return newError(CodeInvalidArgument, 0, "amount must be positive")
	}
	if req.StartTime != nil && *req.StartTime < 0 {
		return newError(CodeInvalidArgument, 0, "start_time must not be negative")
	}
	if n := utf8.RuneCountInString(req.Message); n > e.maxMessageLen {
		return newError(CodeInvalidArgument, 0, "message is %d characters, limit %d", n, e.maxMessageLen)
	}
	return nil
}

// resolveRecipient maps a parsed recipient to the address that will own the
// stream. For identities it returns the bound address, creating a
// placeholder binding on first use.
func (e *Engine) resolveRecipient(ctx context.Context, u *unit, r identity.Recipient) (ir.Address, ir.IdentityHash, bool, error) {
	if r.IsWallet() {
		b, ok, err := u.reg.ReverseLookup(ctx, r.Wallet)
		if err != nil {
			return "", ir.IdentityHash{}, false, err
		}
		if ok && !b.Claimed {
			return "", ir.IdentityHash{}, false, newError(CodeInvalidArgument, 0, "recipient %s is an unclaimed placeholder", r.Wallet)
		}
		return r.Wallet, ir.IdentityHash{}, false, nil
	}

	h := r.Identity.Hash()
	b, ok, err := u.reg.Lookup(ctx, h)
	if err != nil {
		return "", ir.IdentityHash{}, false, err
	}
	if ok {
		return b.Address, h, !b.Claimed, nil
	}

	placeholder := identity.Placeholder(h, e.nonces)
	if _, err := u.reg.BindOrCreate(ctx, h, placeholder, false, u.now); err != nil {
		if errors.Is(err, registry.ErrAddressTaken) {
			return "", ir.IdentityHash{}, false, newError(CodeInvalidState, 0, "placeholder address collision")
		}
		return "", ir.IdentityHash{}, false, err
	}
	e.logger.Debug("placeholder bound", "identity_hash", h, "address", placeholder)
	return placeholder, h, true, nil
}
