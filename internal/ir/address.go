package ir

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the number of bytes in an account address.
const AddressLen = 32

// Address is a normalised account address: "0x" followed by 64 lowercase hex digits.
type Address string

// ParseAddress validates s and returns its normalised form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("address %q: missing 0x prefix", s)
	}
	body := s[2:]
	if len(body) != AddressLen*2 {
		return "", fmt.Errorf("address %q: want %d hex digits, got %d", s, AddressLen*2, len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address %q: %w", s, err)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromBytes builds an address from exactly AddressLen bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLen {
		return "", fmt.Errorf("address: want %d bytes, got %d", AddressLen, len(b))
	}
	return Address("0x" + hex.EncodeToString(b)), nil
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

// IdentityHashLen is the number of bytes in an identity hash.
const IdentityHashLen = 32

// IdentityHash is the one-way digest of a normalised off-chain identity.
// The zero value means the stream was addressed directly to a wallet.
type IdentityHash [IdentityHashLen]byte

// ParseIdentityHash decodes a 64-digit hex string. The empty string yields the zero hash.
func ParseIdentityHash(s string) (IdentityHash, error) {
	var h IdentityHash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return h, nil
	}
	if len(s) != IdentityHashLen*2 {
		return h, fmt.Errorf("identity hash %q: want %d hex digits, got %d", s, IdentityHashLen*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return IdentityHash{}, fmt.Errorf("identity hash %q: %w", s, err)
	}
	return h, nil
}

// IsZero reports whether h is the zero hash.
func (h IdentityHash) IsZero() bool {
	return h == IdentityHash{}
}

// String returns lowercase hex, or "" for the zero hash.
func (h IdentityHash) String() string {
	if h.IsZero() {
		return ""
	}
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h IdentityHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *IdentityHash) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentityHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
