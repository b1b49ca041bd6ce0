package notify

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
	"github.com/roach88/streampay/internal/testutil"
)

// recorder keeps every notice it receives.
type recorder struct {
	created   []Created
	claimed   []Claimed
	cancelled []Cancelled
	rebound   []Rebound
}

func (r *recorder) StreamCreated(_ context.Context, n Created) error {
	r.created = append(r.created, n)
	return nil
}

func (r *recorder) StreamClaimed(_ context.Context, n Claimed) error {
	r.claimed = append(r.claimed, n)
	return nil
}

func (r *recorder) StreamCancelled(_ context.Context, n Cancelled) error {
	r.cancelled = append(r.cancelled, n)
	return nil
}

func (r *recorder) IdentityRebound(_ context.Context, n Rebound) error {
	r.rebound = append(r.rebound, n)
	return nil
}

var (
	alice = testutil.Addr(0xa1)
	bob   = testutil.Addr(0xb0)
)

// replayEngineEvents runs a short lifecycle on a real engine and feeds its
// event log through a Sink.
func replayEngineEvents(t *testing.T, n Notifier) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewManualClock(5_000)
	eng := engine.New(st, engine.WithClock(clock), engine.WithNonceSource(testutil.NewSequenceNonces("n")))
	_, err = eng.Initialize(ctx, testutil.Addr(0x01))
	require.NoError(t, err)
	_, err = eng.Fund(ctx, alice, ir.NewAmount(1_000_000))
	require.NoError(t, err)

	wallet, err := eng.Create(ctx, engine.CreateRequest{Sender: alice, Recipient: bob.String(), Amount: ir.NewAmount(100_000), Duration: 100, Message: "rent"})
	require.NoError(t, err)
	social, err := eng.Create(ctx, engine.CreateRequest{Sender: alice, Recipient: "email:bob@example.com", Amount: ir.NewAmount(100_000), Duration: 100})
	require.NoError(t, err)

	clock.Advance(40)
	_, err = eng.Claim(ctx, engine.ClaimRequest{Caller: ir.Owner(bob), StreamID: wallet.StreamID})
	require.NoError(t, err)
	_, err = eng.Cancel(ctx, engine.CancelRequest{Caller: ir.Owner(alice), StreamID: wallet.StreamID})
	require.NoError(t, err)
	_, err = eng.Rebind(ctx, engine.RebindRequest{Caller: ir.Owner(bob), StreamID: social.StreamID, IdentityHash: social.IdentityHash, NewAddress: bob})
	require.NoError(t, err)

	events, err := eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	sink := Sink{N: n}
	for _, ev := range events {
		require.NoError(t, sink.Handle(ctx, ev))
	}
}

func TestSink_TranslatesEngineEvents(t *testing.T) {
	rec := &recorder{}
	replayEngineEvents(t, rec)

	require.Len(t, rec.created, 2)
	assert.Equal(t, "wallet", rec.created[0].Channel)
	assert.Equal(t, "rent", rec.created[0].Message)
	assert.Equal(t, bob, rec.created[0].Recipient)
	assert.Equal(t, "email", rec.created[1].Channel)

	require.Len(t, rec.claimed, 1)
	assert.Equal(t, bob, rec.claimed[0].Recipient)
	assert.False(t, rec.claimed[0].Amount.IsZero())

	require.Len(t, rec.cancelled, 1)
	c := rec.cancelled[0]
	assert.Equal(t, alice, c.Sender)

	require.Len(t, rec.rebound, 1)
	assert.Equal(t, bob, rec.rebound[0].NewAddress)
	assert.Len(t, rec.rebound[0].Streams, 1)
	assert.False(t, rec.rebound[0].IdentityHash.IsZero())
}

func TestSink_IgnoresLedgerOnlyEvents(t *testing.T) {
	rec := &recorder{}
	sink := Sink{N: rec}

	require.NoError(t, sink.Handle(context.Background(), ir.Event{Kind: ir.EventAccountFunded}))
	require.NoError(t, sink.Handle(context.Background(), ir.Event{Kind: ir.EventEngineInitialized}))
	assert.Empty(t, rec.created)
	assert.Empty(t, rec.claimed)
}

func TestSink_RejectsMalformedAmount(t *testing.T) {
	sink := Sink{N: &recorder{}}
	ev := ir.Event{Seq: 9, Kind: ir.EventStreamClaimed, Attrs: map[string]string{"amount": "-3"}}

	err := sink.Handle(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 9 attr amount")
}

func TestLogNotifier_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	replayEngineEvents(t, NewLogNotifier(logger))

	out := buf.String()
	assert.Contains(t, out, `msg="notify stream created"`)
	assert.Contains(t, out, "channel=email")
	assert.Contains(t, out, `msg="notify stream claimed"`)
	assert.Contains(t, out, `msg="notify stream cancelled"`)
	assert.Contains(t, out, `msg="notify identity rebound"`)
}
