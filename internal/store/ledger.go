package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

func getPool(ctx context.Context, q queryer) (ir.Pool, error) {
	var (
		p           ir.Pool
		escrow, fee string
		admin       string
	)
	err := q.QueryRowContext(ctx, `
		SELECT escrow_balance, fee_collected, fee_bps, admin, initialized_at
		FROM pool WHERE id = 1
	`).Scan(&escrow, &fee, &p.FeeBPS, &admin, &p.InitializedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Pool{}, ErrNotFound
	}
	if err != nil {
		return ir.Pool{}, fmt.Errorf("read pool: %w", err)
	}
	p.Admin = ir.Address(admin)
	if err := parseAmount(escrow, &p.EscrowBalance); err != nil {
		return ir.Pool{}, fmt.Errorf("pool escrow: %w", err)
	}
	if err := parseAmount(fee, &p.FeeCollected); err != nil {
		return ir.Pool{}, fmt.Errorf("pool fee: %w", err)
	}
	return p, nil
}

func getBalance(ctx context.Context, q queryer, addr ir.Address) (ir.Amount, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address = ?`, string(addr)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Amount{}, nil
	}
	if err != nil {
		return ir.Amount{}, fmt.Errorf("read balance: %w", err)
	}
	var a ir.Amount
	if err := parseAmount(raw, &a); err != nil {
		return ir.Amount{}, fmt.Errorf("balance of %s: %w", addr, err)
	}
	return a, nil
}

// InitPool creates the singleton pool row.
// Returns ErrAlreadyExists if the pool was initialised before.
func (t *Tx) InitPool(ctx context.Context, p ir.Pool) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pool (id, escrow_balance, fee_collected, fee_bps, admin, initialized_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.EscrowBalance.String(), p.FeeCollected.String(), p.FeeBPS, string(p.Admin), p.InitializedAt)
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("init pool: rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetPool reads the pool inside the transaction.
// Returns ErrNotFound if the engine was never initialised.
func (t *Tx) GetPool(ctx context.Context) (ir.Pool, error) {
	return getPool(ctx, t.tx)
}

// UpdatePool writes the escrow and fee balances.
func (t *Tx) UpdatePool(ctx context.Context, p ir.Pool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE pool SET escrow_balance = ?, fee_collected = ? WHERE id = 1
	`, p.EscrowBalance.String(), p.FeeCollected.String())
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pool: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBalance returns the token balance of addr; unknown accounts hold zero.
func (t *Tx) GetBalance(ctx context.Context, addr ir.Address) (ir.Amount, error) {
	return getBalance(ctx, t.tx, addr)
}

// SetBalance upserts the token balance of addr.
func (t *Tx) SetBalance(ctx context.Context, addr ir.Address, balance ir.Amount) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, string(addr), balance.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// ReadPool reads the pool outside a transaction.
// Returns ErrNotFound if the engine was never initialised.
func (s *Store) ReadPool(ctx context.Context) (ir.Pool, error) {
	return getPool(ctx, s.db)
}

// ReadBalance returns the token balance of addr; unknown accounts hold zero.
func (s *Store) ReadBalance(ctx context.Context, addr ir.Address) (ir.Amount, error) {
	return getBalance(ctx, s.db, addr)
}
