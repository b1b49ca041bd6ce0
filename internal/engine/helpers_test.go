package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
	"github.com/roach88/streampay/internal/testutil"
)

const t0 int64 = 1_700_000_000

var (
	admin    = testutil.Addr(0x0a)
	alice    = testutil.Addr(0xaa) // sender
	bob      = testutil.Addr(0xbb) // recipient
	carol    = testutil.Addr(0xcc)
	operator = testutil.Addr(0x0f)
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ir.Event
}

func (p *recordingPublisher) Publish(ev ir.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) kinds() []ir.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ir.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	eng   *Engine
	store *store.Store
	clock *testutil.ManualClock
	pub   *recordingPublisher
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newFixture returns an initialised engine with alice funded with 1,000,000.
// Extra options are applied after the defaults.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: setupTestStore(t),
		clock: testutil.NewManualClock(t0),
		pub:   &recordingPublisher{},
	}
	base := []Option{
		WithClock(f.clock),
		WithPublisher(f.pub),
		WithNonceSource(testutil.NewSequenceNonces("test")),
	}
	f.eng = New(f.store, append(base, opts...)...)

	ctx := context.Background()
	_, err := f.eng.Initialize(ctx, admin)
	require.NoError(t, err)
	_, err = f.eng.Fund(ctx, alice, ir.NewAmount(1_000_000))
	require.NoError(t, err)
	return f
}

// create opens a stream from alice and fails the test on error.
func (f *fixture) create(t *testing.T, recipient string, amount uint64, duration int64) CreateResult {
	t.Helper()
	res, err := f.eng.Create(context.Background(), CreateRequest{
		Sender:    alice,
		Recipient: recipient,
		Amount:    ir.NewAmount(amount),
		Duration:  duration,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) stream(t *testing.T, id int64) ir.Stream {
	t.Helper()
	s, err := f.eng.GetStream(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) balance(t *testing.T, addr ir.Address) string {
	t.Helper()
	b, err := f.eng.Balance(context.Background(), addr)
	require.NoError(t, err)
	return b.String()
}

func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	rep, err := f.eng.Audit(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Balanced, "escrow %s != outstanding %s", rep.EscrowBalance, rep.Outstanding)
}
