package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/ir"
)

var (
	alice = ir.MustParseAddress("0x" + "aa00000000000000000000000000000000000000000000000000000000000001")
	bob   = ir.MustParseAddress("0x" + "bb00000000000000000000000000000000000000000000000000000000000002")
	carol = ir.MustParseAddress("0x" + "cc00000000000000000000000000000000000000000000000000000000000003")
)

// createTestStore opens a fresh database in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testStream() ir.Stream {
	return ir.Stream{
		Sender:        alice,
		Recipient:     bob,
		TotalAmount:   ir.NewAmount(998),
		RatePerSecond: ir.NewAmount(0),
		StartTime:     1000,
		EndTime:       2000,
		LastClaimTime: 1000,
		Status:        ir.StatusActive,
		Message:       "hi",
		CreatedAt:     1000,
	}
}

// inTx runs fn in a transaction and fails the test on error.
func inTx(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}
