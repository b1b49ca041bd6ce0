package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/streampay/internal/ir"
)

// SequenceNonces returns "<prefix>-1", "<prefix>-2", ... so placeholder
// addresses are deterministic across runs.
//
// Implements identity.NonceSource.
//
// Thread-safety: SequenceNonces is safe for concurrent use via internal mutex.
type SequenceNonces struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceNonces creates a nonce source. An empty prefix becomes "nonce".
func NewSequenceNonces(prefix string) *SequenceNonces {
	if prefix == "" {
		prefix = "nonce"
	}
	return &SequenceNonces{prefix: prefix}
}

// Nonce returns the next nonce in the sequence.
func (s *SequenceNonces) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// Addr returns a deterministic address whose every byte is b.
// Addr(0xaa) is "0xaaaa...aa".
func Addr(b byte) ir.Address {
	raw := make([]byte, ir.AddressLen)
	for i := range raw {
		raw[i] = b
	}
	a, err := ir.AddressFromBytes(raw)
	if err != nil {
		panic(err)
	}
	return a
}
