package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
	"github.com/roach88/streampay/internal/testutil"
)

// fakeSource serves streams and events from memory.
type fakeSource struct {
	streams map[int64]ir.Stream
	events  []ir.Event
}

func (f *fakeSource) GetStream(_ context.Context, id int64) (ir.Stream, error) {
	s, ok := f.streams[id]
	if !ok {
		return ir.Stream{}, errors.New("no such stream")
	}
	return s, nil
}

func (f *fakeSource) Events(_ context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	var out []ir.Event
	for _, ev := range f.events {
		if ev.Seq > afterSeq && (limit <= 0 || len(out) < limit) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func openTestMirror(t *testing.T, src Source) *Mirror {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "mirror.db"), src, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

var (
	sender    = testutil.Addr(0xaa)
	recipient = testutil.Addr(0xbb)
)

func sampleStream(id int64) ir.Stream {
	return ir.Stream{
		ID:            id,
		Sender:        sender,
		Recipient:     recipient,
		TotalAmount:   ir.NewAmount(1000),
		RatePerSecond: ir.NewAmount(1),
		StartTime:     100,
		EndTime:       1100,
		LastClaimTime: 100,
		Status:        ir.StatusActive,
		CreatedAt:     100,
	}
}

func TestApply_UpsertsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{streams: map[int64]ir.Stream{1: sampleStream(1)}}
	m := openTestMirror(t, src)

	require.NoError(t, m.Apply(ctx, ir.Event{Seq: 3, Kind: ir.EventStreamCreated, StreamID: 1}))

	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, sampleStream(1), got)

	cursor, err := m.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	// Re-applying an older event does not move the cursor back.
	require.NoError(t, m.Apply(ctx, ir.Event{Seq: 2, Kind: ir.EventAccountFunded}))
	cursor, err = m.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
}

func TestApply_ReadsAuthoritativeState(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{streams: map[int64]ir.Stream{1: sampleStream(1)}}
	m := openTestMirror(t, src)
	require.NoError(t, m.Apply(ctx, ir.Event{Seq: 1, StreamID: 1}))

	updated := sampleStream(1)
	updated.ClaimedAmount = ir.NewAmount(40)
	updated.Status = ir.StatusCancelled
	src.streams[1] = updated

	require.NoError(t, m.Apply(ctx, ir.Event{Seq: 2, Kind: ir.EventStreamCancelled, StreamID: 1}))
	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCancelled, got.Status)
	assert.Equal(t, "40", got.ClaimedAmount.String())
}

func TestApply_RebindRefreshesEveryListedStream(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{streams: map[int64]ir.Stream{1: sampleStream(1), 2: sampleStream(2)}}
	m := openTestMirror(t, src)

	ev := ir.Event{Seq: 5, Kind: ir.EventIdentityRebound, StreamID: 2, Attrs: map[string]string{"streams": "1,2"}}
	require.NoError(t, m.Apply(ctx, ev))

	list, err := m.List(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
}

func TestGet_NotMirrored(t *testing.T) {
	m := openTestMirror(t, &fakeSource{})

	_, err := m.Get(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatchUp_StopsAtFailure(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		streams: map[int64]ir.Stream{1: sampleStream(1)},
		events: []ir.Event{
			{Seq: 1, StreamID: 1},
			{Seq: 2, StreamID: 7}, // unknown to the source
			{Seq: 3, StreamID: 1},
		},
	}
	m := openTestMirror(t, src)

	n, err := m.CatchUp(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	cursor, err := m.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestCatchUp_ConvergesWithEngine(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewManualClock(1_000)
	eng := engine.New(st, engine.WithClock(clock), engine.WithFeeBPS(0))
	_, err = eng.Initialize(ctx, testutil.Addr(0x01))
	require.NoError(t, err)
	_, err = eng.Fund(ctx, sender, ir.NewAmount(10_000))
	require.NoError(t, err)

	res, err := eng.Create(ctx, engine.CreateRequest{Sender: sender, Recipient: recipient.String(), Amount: ir.NewAmount(1000), Duration: 1000})
	require.NoError(t, err)
	clock.Advance(250)
	_, err = eng.Claim(ctx, engine.ClaimRequest{Caller: ir.Owner(recipient), StreamID: res.StreamID})
	require.NoError(t, err)

	m := openTestMirror(t, eng)
	n, err := m.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	want, err := eng.GetStream(ctx, res.StreamID)
	require.NoError(t, err)
	got, err := m.Get(ctx, res.StreamID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Nothing new: a second catch-up is a no-op.
	n, err = m.CatchUp(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandle_FillsGapsAndSkipsSeen(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		streams: map[int64]ir.Stream{1: sampleStream(1), 2: sampleStream(2)},
		events: []ir.Event{
			{Seq: 1, StreamID: 1},
			{Seq: 2, StreamID: 2},
			{Seq: 3, StreamID: 1},
		},
	}
	m := openTestMirror(t, src)

	// Delivered out of the blue at seq 3: the mirror replays 1 and 2 too.
	require.NoError(t, m.Handle(ctx, src.events[2]))
	_, err := m.Get(ctx, 2)
	require.NoError(t, err)
	cursor, err := m.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	// A stale delivery is ignored even though its stream no longer exists.
	delete(src.streams, 1)
	require.NoError(t, m.Handle(ctx, ir.Event{Seq: 1, StreamID: 1}))
}
