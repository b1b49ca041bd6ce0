package accrual

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/ir"
)

// newStream builds an ACTIVE stream starting at start with the given total and duration.
func newStream(total uint64, start, duration int64) ir.Stream {
	t := ir.NewAmount(total)
	return ir.Stream{
		ID:            1,
		TotalAmount:   t,
		RatePerSecond: RatePerSecond(t, duration),
		StartTime:     start,
		EndTime:       start + duration,
		LastClaimTime: start,
		Status:        ir.StatusActive,
	}
}

func TestClaimable(t *testing.T) {
	const start = 1_000_000

	tests := []struct {
		name   string
		stream func() ir.Stream
		now    int64
		want   uint64
	}{
		{
			name:   "before start",
			stream: func() ir.Stream { return newStream(1000, start, 1000) },
			now:    start - 1,
			want:   0,
		},
		{
			name:   "at start",
			stream: func() ir.Stream { return newStream(1000, start, 1000) },
			now:    start,
			want:   0,
		},
		{
			name:   "midway",
			stream: func() ir.Stream { return newStream(1000, start, 1000) },
			now:    start + 100,
			want:   100,
		},
		{
			name:   "past end caps at end_time",
			stream: func() ir.Stream { return newStream(1000, start, 1000) },
			now:    start + 5000,
			want:   1000,
		},
		{
			name: "truncated rate leaves dust until end",
			stream: func() ir.Stream {
				return newStream(998, start, 1000) // 998/1000 floors to a zero rate
			},
			now:  start + 1000,
			want: 0,
		},
		{
			name: "bounded by remaining",
			stream: func() ir.Stream {
				s := newStream(1000, start, 1000)
				s.ClaimedAmount = ir.NewAmount(990)
				return s
			},
			now:  start + 1000,
			want: 10,
		},
		{
			name: "measured from last claim",
			stream: func() ir.Stream {
				s := newStream(1000, start, 1000)
				s.ClaimedAmount = ir.NewAmount(50)
				s.LastClaimTime = start + 100
				return s
			},
			now:  start + 200,
			want: 100,
		},
		{
			name: "cancelled yields zero",
			stream: func() ir.Stream {
				s := newStream(1000, start, 1000)
				s.Status = ir.StatusCancelled
				return s
			},
			now:  start + 500,
			want: 0,
		},
		{
			name: "completed yields zero",
			stream: func() ir.Stream {
				s := newStream(1000, start, 1000)
				s.Status = ir.StatusCompleted
				s.ClaimedAmount = s.TotalAmount
				return s
			},
			now:  start + 2000,
			want: 0,
		},
		{
			name: "last claim in the future yields zero",
			stream: func() ir.Stream {
				s := newStream(1000, start, 1000)
				s.LastClaimTime = start + 500
				return s
			},
			now:  start + 400,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Claimable(tt.stream(), tt.now)
			assert.Equal(t, ir.NewAmount(tt.want), got)
		})
	}
}

func TestClaimable_OverflowSaturatesAtRemaining(t *testing.T) {
	s := newStream(1, 0, 1)
	s.TotalAmount = ir.MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	s.RatePerSecond = s.TotalAmount
	s.EndTime = 1 << 40

	got := Claimable(s, 1<<40)
	assert.Equal(t, s.TotalAmount, got)
}

func TestClaimable_Bounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		total := uint64(rng.Int63n(1_000_000) + 1)
		duration := rng.Int63n(10_000) + 1
		s := newStream(total, 0, duration)
		claimed := uint64(rng.Int63n(int64(total) + 1))
		s.ClaimedAmount = ir.NewAmount(claimed)
		s.LastClaimTime = rng.Int63n(duration + 1)

		now := rng.Int63n(2*duration+10) - 5
		got := Claimable(s, now)

		assert.True(t, got.Cmp(s.Remaining()) <= 0, "claimable %s exceeds remaining %s", got, s.Remaining())
	}
}

func TestSplit(t *testing.T) {
	s := newStream(998, 0, 1000) // rate floors to 0
	s.RatePerSecond = ir.NewAmount(1)

	toRecipient, toSender := Split(s, 300)
	assert.Equal(t, ir.NewAmount(300), toRecipient)
	assert.Equal(t, ir.NewAmount(698), toSender)

	sum, err := toRecipient.Add(toSender)
	require.NoError(t, err)
	assert.Equal(t, s.Remaining(), sum)
}

func TestSplit_AfterPartialClaim(t *testing.T) {
	s := newStream(1000, 0, 1000)
	s.ClaimedAmount = ir.NewAmount(100)
	s.LastClaimTime = 100

	toRecipient, toSender := Split(s, 400)
	assert.Equal(t, ir.NewAmount(300), toRecipient)
	assert.Equal(t, ir.NewAmount(600), toSender)
}

func TestFee(t *testing.T) {
	tests := []struct {
		amount uint64
		bps    uint32
		want   uint64
	}{
		{amount: 1000, bps: 25, want: 2},
		{amount: 10_000, bps: 25, want: 25},
		{amount: 399, bps: 25, want: 0},
		{amount: 1000, bps: 0, want: 0},
		{amount: 1000, bps: 10_000, want: 1000},
	}
	for _, tt := range tests {
		got, err := Fee(ir.NewAmount(tt.amount), tt.bps)
		require.NoError(t, err)
		assert.Equal(t, ir.NewAmount(tt.want), got, "fee(%d, %d)", tt.amount, tt.bps)
	}
}

func TestRatePerSecond(t *testing.T) {
	assert.Equal(t, ir.NewAmount(1), RatePerSecond(ir.NewAmount(1000), 1000))
	assert.Equal(t, ir.NewAmount(0), RatePerSecond(ir.NewAmount(998), 1000))
	assert.Equal(t, ir.NewAmount(3), RatePerSecond(ir.NewAmount(10), 3))
	assert.Equal(t, ir.NewAmount(0), RatePerSecond(ir.NewAmount(10), 0))
}

func TestVestedAndProgress(t *testing.T) {
	s := newStream(1000, 100, 1000)
	s.ClaimedAmount = ir.NewAmount(50)
	s.LastClaimTime = 150

	assert.Equal(t, ir.NewAmount(100), Vested(s, 200))
	assert.Equal(t, uint32(0), Progress(s, 50))
	assert.Equal(t, uint32(2500), Progress(s, 350))
	assert.Equal(t, uint32(BasisPoints), Progress(s, 5000))
}

func TestProgress_LongStream(t *testing.T) {
	// elapsed * 10000 overflows int64 here.
	const duration = int64(4e15)
	s := newStream(1000, 0, duration)

	assert.Equal(t, uint32(2500), Progress(s, duration/4))
	assert.Equal(t, uint32(9999), Progress(s, duration-1))
	assert.Equal(t, uint32(BasisPoints), Progress(s, duration))
}
