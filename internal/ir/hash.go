package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain prefixes for hashing.
// Version suffix enables future algorithm migration.
const (
	DomainIdentity    = "streampay/identity/v1"
	DomainPlaceholder = "streampay/placeholder/v1"
	DomainEvent       = "streampay/event/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashIdentity digests an already-normalised identity of the given kind.
// Callers normalise first (see package identity); this function does not.
func HashIdentity(kind, normalized string) IdentityHash {
	data := make([]byte, 0, len(kind)+1+len(normalized))
	data = append(data, kind...)
	data = append(data, 0x00)
	data = append(data, normalized...)
	return IdentityHash(hashWithDomain(DomainIdentity, data))
}

// PlaceholderAddress derives a synthetic recipient address for an identity.
//
// The address is the output of a hash, so no private key for it is known to
// anyone and funds sent there can only move through a rebind. The nonce keeps
// placeholders for re-created bindings distinct.
func PlaceholderAddress(h IdentityHash, nonce string) Address {
	data := make([]byte, 0, IdentityHashLen+1+len(nonce))
	data = append(data, h[:]...)
	data = append(data, 0x00)
	data = append(data, nonce...)
	sum := hashWithDomain(DomainPlaceholder, data)
	return Address("0x" + hex.EncodeToString(sum[:]))
}

// EventID computes the content-addressed ID of an event.
// Seq is included so two otherwise identical events in the same second
// (for example two equal faucet credits) still get distinct IDs.
// Returns error if attrs cannot be canonically marshaled.
func EventID(seq int64, kind EventKind, streamID, at int64, attrs map[string]string) (string, error) {
	canonicalAttrs, err := MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal attrs: %w", err)
	}

	obj := map[string]string{
		"seq":       strconv.FormatInt(seq, 10),
		"kind":      string(kind),
		"stream_id": strconv.FormatInt(streamID, 10),
		"at":        strconv.FormatInt(at, 10),
		"attrs":     string(canonicalAttrs),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	sum := hashWithDomain(DomainEvent, canonical)
	return hex.EncodeToString(sum[:]), nil
}
