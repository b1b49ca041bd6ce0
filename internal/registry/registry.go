// Package registry maintains the bidirectional identity-hash <-> address
// bindings that let a stream be addressed to an email or handle before its
// owner has a wallet.
//
// A Registry is a thin policy layer over a BindingStore. It is constructed
// per unit of work (typically over a *store.Tx) so every registry change
// commits or rolls back together with the stream updates that depend on it.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
)

var (
	// ErrBoundElsewhere is returned when an identity is already bound to a
	// different address than the one the caller expected.
	ErrBoundElsewhere = errors.New("identity bound to a different address")

	// ErrAddressTaken is returned when the target address already belongs
	// to another identity.
	ErrAddressTaken = errors.New("address bound to another identity")

	// ErrPlaceholderTarget is returned when a rebind targets an address
	// that is itself an unclaimed placeholder.
	ErrPlaceholderTarget = errors.New("address is an unclaimed placeholder")
)

// BindingStore is the persistence the registry needs.
// Implemented by *store.Tx.
type BindingStore interface {
	GetBinding(ctx context.Context, h ir.IdentityHash) (ir.Binding, error)
	GetBindingByAddress(ctx context.Context, addr ir.Address) (ir.Binding, error)
	InsertBinding(ctx context.Context, b ir.Binding) error
	ReplaceBinding(ctx context.Context, b ir.Binding) error
}

// Registry applies binding rules on top of a BindingStore.
type Registry struct {
	bs BindingStore
}

// New returns a registry over bs.
func New(bs BindingStore) *Registry {
	return &Registry{bs: bs}
}

// Lookup returns the binding for h and whether it exists.
func (r *Registry) Lookup(ctx context.Context, h ir.IdentityHash) (ir.Binding, bool, error) {
	b, err := r.bs.GetBinding(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Binding{}, false, nil
	}
	if err != nil {
		return ir.Binding{}, false, fmt.Errorf("lookup binding: %w", err)
	}
	return b, true, nil
}

// ReverseLookup returns the binding whose address is addr, if any.
func (r *Registry) ReverseLookup(ctx context.Context, addr ir.Address) (ir.Binding, bool, error) {
	b, err := r.bs.GetBindingByAddress(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Binding{}, false, nil
	}
	if err != nil {
		return ir.Binding{}, false, fmt.Errorf("reverse lookup binding: %w", err)
	}
	return b, true, nil
}

// BindOrCreate binds h to addr if h is unbound. claimed records whether addr
// is a real owner address (true) or a placeholder (false).
//
// Binding an identity to the address it already has is a no-op that returns
// the existing binding. Returns ErrBoundElsewhere if h is bound to another
// address and ErrAddressTaken if addr belongs to another identity.
func (r *Registry) BindOrCreate(ctx context.Context, h ir.IdentityHash, addr ir.Address, claimed bool, now int64) (ir.Binding, error) {
	if h.IsZero() {
		return ir.Binding{}, fmt.Errorf("bind: zero identity hash")
	}

	existing, ok, err := r.Lookup(ctx, h)
	if err != nil {
		return ir.Binding{}, err
	}
	if ok {
		if existing.Address != addr {
			return ir.Binding{}, ErrBoundElsewhere
		}
		return existing, nil
	}

	b := ir.Binding{
		IdentityHash: h,
		Address:      addr,
		Claimed:      claimed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.bs.InsertBinding(ctx, b); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return ir.Binding{}, ErrAddressTaken
		}
		return ir.Binding{}, fmt.Errorf("bind: %w", err)
	}
	return b, nil
}

// Rebind moves h from oldAddr to newAddr and marks the binding claimed.
// Both directions of the old mapping are dropped in the same write.
//
// If h is unbound the new binding is created directly. Returns
// ErrPlaceholderTarget if newAddr is any identity's unclaimed placeholder
// (h's own included), ErrBoundElsewhere if h is bound to something other
// than oldAddr, and ErrAddressTaken if newAddr belongs to another identity.
func (r *Registry) Rebind(ctx context.Context, h ir.IdentityHash, oldAddr, newAddr ir.Address, now int64) (ir.Binding, error) {
	target, taken, err := r.ReverseLookup(ctx, newAddr)
	if err != nil {
		return ir.Binding{}, err
	}
	if taken && !target.Claimed {
		return ir.Binding{}, ErrPlaceholderTarget
	}

	existing, ok, err := r.Lookup(ctx, h)
	if err != nil {
		return ir.Binding{}, err
	}
	if !ok {
		return r.BindOrCreate(ctx, h, newAddr, true, now)
	}
	if existing.Address != oldAddr {
		return ir.Binding{}, ErrBoundElsewhere
	}

	b := existing
	b.Address = newAddr
	b.Claimed = true
	b.UpdatedAt = now
	if err := r.bs.ReplaceBinding(ctx, b); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return ir.Binding{}, ErrAddressTaken
		}
		return ir.Binding{}, fmt.Errorf("rebind: %w", err)
	}
	return b, nil
}
