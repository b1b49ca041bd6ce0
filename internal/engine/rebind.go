package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/registry"
)

// RebindRequest moves an identity-addressed stream from its placeholder to
// the address of the identity's authenticated owner.
//
// The engine only checks that IdentityHash equals the hash recorded on the
// stream. Proving that the caller controls the off-chain identity is the
// calling layer's job.
type RebindRequest struct {
	Caller       ir.Caller
	StreamID     int64
	IdentityHash ir.IdentityHash
	NewAddress   ir.Address
}

// RebindResult reports a rebind.
type RebindResult struct {
	StreamID       int64           `json:"stream_id"`
	IdentityHash   ir.IdentityHash `json:"identity_hash"`
	OldAddress     ir.Address      `json:"old_address"`
	NewAddress     ir.Address      `json:"new_address"`
	StreamsUpdated []int64         `json:"streams_updated"`
	MovedBalance   ir.Amount       `json:"moved_balance"`
	Noop           bool            `json:"noop"` // identity was already bound to NewAddress
}

// Rebind performs the one-way UNCLAIMED_IDENTITY -> CLAIMED_IDENTITY
// transition. Every stream carrying the identity hash whose recipient is the
// placeholder moves to the new address together with the registry entry, and
// any balance the placeholder holds (from cancellations) follows.
//
// Rebinding an already-claimed identity to the same address is a no-op;
// to any other address it fails with INVALID_STATE.
func (e *Engine) Rebind(ctx context.Context, req RebindRequest) (RebindResult, error) {
	var res RebindResult
	err := e.update(ctx, "rebind", func(u *unit) error {
		var err error
		res, err = e.rebind(ctx, u, req)
		return err
	})
	return res, err
}

func (e *Engine) rebind(ctx context.Context, u *unit, req RebindRequest) (RebindResult, error) {
	if err := checkAddress("new_address", req.NewAddress); err != nil {
		return RebindResult{}, err
	}
	if _, err := u.pool(ctx); err != nil {
		return RebindResult{}, err
	}
	s, err := u.stream(ctx, req.StreamID)
	if err != nil {
		return RebindResult{}, err
	}
	if !s.IdentityAddressed() {
		return RebindResult{}, newError(CodeInvalidState, s.ID, "stream is addressed to a wallet")
	}
	if req.IdentityHash != s.RecipientIdentityHash {
		return RebindResult{}, newError(CodeNotAuthorized, s.ID, "identity hash does not match stream")
	}
	switch req.Caller.Authority {
	case ir.AuthorityOwner:
		if req.Caller.Address != req.NewAddress {
			return RebindResult{}, newError(CodeNotAuthorized, s.ID, "owner may only bind its own address")
		}
	case ir.AuthorityOperator:
		if !e.IsOperator(req.Caller.Address) {
			return RebindResult{}, newError(CodeNotAuthorized, s.ID, "caller %s is not an operator", req.Caller.Address)
		}
	default:
		return RebindResult{}, newError(CodeInvalidArgument, s.ID, "unknown authority %d", req.Caller.Authority)
	}

	h := s.RecipientIdentityHash
	old := s.Recipient
	b, bound, err := u.reg.Lookup(ctx, h)
	if err != nil {
		return RebindResult{}, err
	}
	if bound {
		if b.Claimed {
			if b.Address == req.NewAddress {
				return RebindResult{
					StreamID:     s.ID,
					IdentityHash: h,
					OldAddress:   b.Address,
					NewAddress:   b.Address,
					Noop:         true,
				}, nil
			}
			return RebindResult{}, newError(CodeInvalidState, s.ID, "identity already claimed by another address")
		}
		old = b.Address
	}

	if _, err := u.reg.Rebind(ctx, h, old, req.NewAddress, u.now); err != nil {
		switch {
		case errors.Is(err, registry.ErrPlaceholderTarget):
			return RebindResult{}, newError(CodeInvalidArgument, s.ID, "address %s is an unclaimed placeholder", req.NewAddress)
		case errors.Is(err, registry.ErrAddressTaken):
			return RebindResult{}, newError(CodeInvalidState, s.ID, "address %s is bound to another identity", req.NewAddress)
		case errors.Is(err, registry.ErrBoundElsewhere):
			return RebindResult{}, newError(CodeInvalidState, s.ID, "binding changed concurrently")
		}
		return RebindResult{}, err
	}

	streams, err := u.tx.StreamsByIdentity(ctx, h)
	if err != nil {
		return RebindResult{}, err
	}
	updated := []int64{}
	for _, st := range streams {
		if st.Recipient != old {
			continue
		}
		st.Recipient = req.NewAddress
		if err := u.tx.UpdateStream(ctx, st); err != nil {
			return RebindResult{}, err
		}
		updated = append(updated, st.ID)
	}

	moved, err := u.tx.GetBalance(ctx, old)
	if err != nil {
		return RebindResult{}, err
	}
	if !moved.IsZero() {
		if err := u.tx.SetBalance(ctx, old, ir.Amount{}); err != nil {
			return RebindResult{}, err
		}
		if err := u.credit(ctx, req.NewAddress, moved); err != nil {
			return RebindResult{}, err
		}
	}

	ids := make([]string, len(updated))
	for i, id := range updated {
		ids[i] = itoa(id)
	}
	_, err = u.emit(ctx, ir.EventIdentityRebound, s.ID, callerAttrs(map[string]string{
		"identity_hash": h.String(),
		"old_address":   old.String(),
		"new_address":   req.NewAddress.String(),
		"streams":       strings.Join(ids, ","),
		"moved_balance": moved.String(),
	}, req.Caller))
	if err != nil {
		return RebindResult{}, err
	}

	return RebindResult{
		StreamID:       s.ID,
		IdentityHash:   h,
		OldAddress:     old,
		NewAddress:     req.NewAddress,
		StreamsUpdated: updated,
		MovedBalance:   moved,
	}, nil
}

// IdentityClaimRequest rebinds a stream's identity and claims from it in
// one transaction: the flow for a recipient claiming for the first time.
type IdentityClaimRequest struct {
	Caller       ir.Caller
	StreamID     int64
	IdentityHash ir.IdentityHash
	NewAddress   ir.Address
	Amount       ir.Amount
	IntentKey    string
}

// IdentityClaimResult combines the rebind and claim outcomes.
type IdentityClaimResult struct {
	Rebind RebindResult `json:"rebind"`
	Claim  ClaimResult  `json:"claim"`
}

// ClaimWithIdentity runs Rebind and then Claim atomically. If the claim
// fails the rebind is rolled back as well.
func (e *Engine) ClaimWithIdentity(ctx context.Context, req IdentityClaimRequest) (IdentityClaimResult, error) {
	var res IdentityClaimResult
	err := e.update(ctx, "claim_with_identity", func(u *unit) error {
		var err error
		res.Rebind, err = e.rebind(ctx, u, RebindRequest{
			Caller:       req.Caller,
			StreamID:     req.StreamID,
			IdentityHash: req.IdentityHash,
			NewAddress:   req.NewAddress,
		})
		if err != nil {
			return err
		}
		res.Claim, err = e.claim(ctx, u, ClaimRequest{
			Caller:    req.Caller,
			StreamID:  req.StreamID,
			Amount:    req.Amount,
			IntentKey: req.IntentKey,
		})
		return err
	})
	return res, err
}
