package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

const bindingColumns = `identity_hash, address, claimed, created_at, updated_at`

func scanBinding(row rowScanner) (ir.Binding, error) {
	var (
		b             ir.Binding
		hash, address string
		claimed       int
	)
	if err := row.Scan(&hash, &address, &claimed, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return ir.Binding{}, err
	}
	h, err := ir.ParseIdentityHash(hash)
	if err != nil {
		return ir.Binding{}, fmt.Errorf("binding: %w", err)
	}
	b.IdentityHash = h
	b.Address = ir.Address(address)
	b.Claimed = claimed != 0
	return b, nil
}

func getBinding(ctx context.Context, q queryer, where string, arg any) (ir.Binding, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bindingColumns+` FROM identity_bindings WHERE `+where, arg)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Binding{}, ErrNotFound
	}
	if err != nil {
		return ir.Binding{}, fmt.Errorf("read binding: %w", err)
	}
	return b, nil
}

// GetBinding returns the binding for an identity hash.
// Returns ErrNotFound if the identity has never been bound.
func (t *Tx) GetBinding(ctx context.Context, h ir.IdentityHash) (ir.Binding, error) {
	return getBinding(ctx, t.tx, `identity_hash = ?`, h.String())
}

// GetBindingByAddress returns the binding whose address is addr.
// Returns ErrNotFound if addr is not bound to any identity.
func (t *Tx) GetBindingByAddress(ctx context.Context, addr ir.Address) (ir.Binding, error) {
	return getBinding(ctx, t.tx, `address = ?`, string(addr))
}

// InsertBinding adds a new binding.
// Returns ErrAlreadyExists if the identity hash or the address is already bound.
func (t *Tx) InsertBinding(ctx context.Context, b ir.Binding) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO identity_bindings (identity_hash, address, claimed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, b.IdentityHash.String(), string(b.Address), boolToInt(b.Claimed), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert binding: rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ReplaceBinding points an existing identity at a new address, updating the
// claimed flag and updated_at. Replacing the row drops the old
// address -> identity direction in the same statement.
// Returns ErrNotFound if the identity is not bound, ErrAlreadyExists if the
// new address belongs to another identity.
func (t *Tx) ReplaceBinding(ctx context.Context, b ir.Binding) error {
	other, err := t.GetBindingByAddress(ctx, b.Address)
	switch {
	case err == nil && other.IdentityHash != b.IdentityHash:
		return ErrAlreadyExists
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE identity_bindings
		SET address = ?, claimed = ?, updated_at = ?
		WHERE identity_hash = ?
	`, string(b.Address), boolToInt(b.Claimed), b.UpdatedAt, b.IdentityHash.String())
	if err != nil {
		return fmt.Errorf("replace binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace binding: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReadBinding returns the binding for an identity hash outside a transaction.
func (s *Store) ReadBinding(ctx context.Context, h ir.IdentityHash) (ir.Binding, error) {
	return getBinding(ctx, s.db, `identity_hash = ?`, h.String())
}

// ReadBindingByAddress returns the binding whose address is addr.
func (s *Store) ReadBindingByAddress(ctx context.Context, addr ir.Address) (ir.Binding, error) {
	return getBinding(ctx, s.db, `address = ?`, string(addr))
}
