package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/streampay/internal/ir"
)

// Recipient is a parsed stream recipient: exactly one of Wallet or Identity is set.
type Recipient struct {
	Wallet   ir.Address
	Identity *Identity
}

// IsWallet reports whether the recipient is a direct wallet address.
func (r Recipient) IsWallet() bool {
	return r.Identity == nil
}

// String renders the recipient the way ParseRecipient accepts it.
func (r Recipient) String() string {
	if r.Identity != nil {
		return r.Identity.String()
	}
	return r.Wallet.String()
}

// WalletRecipient wraps an address.
func WalletRecipient(addr ir.Address) Recipient {
	return Recipient{Wallet: addr}
}

// IdentityRecipient wraps an identity.
func IdentityRecipient(id Identity) Recipient {
	return Recipient{Identity: &id}
}

// ParseRecipient reads a wallet address ("0x..." or "wallet:0x...") or any
// identity form accepted by Parse.
func ParseRecipient(s string) (Recipient, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "wallet:")

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		addr, err := ir.ParseAddress(s)
		if err != nil {
			return Recipient{}, fmt.Errorf("recipient: %w", err)
		}
		return WalletRecipient(addr), nil
	}

	id, err := Parse(s)
	if err != nil {
		return Recipient{}, fmt.Errorf("recipient: %w", err)
	}
	return IdentityRecipient(id), nil
}

// NonceSource supplies the per-binding nonce mixed into placeholder addresses.
// Implemented by UUIDNonces and, in tests, testutil.SequenceNonces.
type NonceSource interface {
	Nonce() string
}

// UUIDNonces generates time-sortable UUIDv7 nonces.
//
// Thread-safety: UUIDNonces is stateless and safe for concurrent use.
type UUIDNonces struct{}

// Nonce returns a new UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDNonces) Nonce() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedNonces always returns the same nonce, making placeholder addresses
// deterministic for golden traces.
type FixedNonces string

// Nonce returns the fixed value.
func (n FixedNonces) Nonce() string {
	return string(n)
}

// Placeholder derives the placeholder address for an identity hash.
func Placeholder(h ir.IdentityHash, nonces NonceSource) ir.Address {
	return ir.PlaceholderAddress(h, nonces.Nonce())
}
