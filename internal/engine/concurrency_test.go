package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/ir"
)

// outcome is one goroutine's result.
type outcome struct {
	amount ir.Amount
	err    error
}

// race runs fn n times concurrently, released together, and returns the
// outcomes in completion order.
func race(n int, fn func(i int) (ir.Amount, error)) []outcome {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		out   []outcome
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			amt, err := fn(i)
			mu.Lock()
			out = append(out, outcome{amount: amt, err: err})
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()
	return out
}

func TestConcurrentClaims_PayOnce(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bob.String(), 1000, 1000)
	f.clock.Advance(300)

	results := race(16, func(int) (ir.Amount, error) {
		r, err := f.eng.Claim(ctx, ClaimRequest{Caller: ir.Owner(bob), StreamID: res.StreamID})
		return r.Amount, err
	})

	paid := ir.Amount{}
	successes := 0
	for _, r := range results {
		if r.err != nil {
			assert.True(t, IsNothingToClaim(r.err), "unexpected error %v", r.err)
			continue
		}
		successes++
		var err error
		paid, err = paid.Add(r.amount)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, "300", paid.String())
	assert.Equal(t, "300", f.balance(t, bob))
	assert.Equal(t, "300", f.stream(t, res.StreamID).ClaimedAmount.String())
	f.requireBalanced(t)
}

func TestConcurrentCancelAndClaims(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bob.String(), 1000, 1000)
	f.clock.Advance(300)

	var cancelMu sync.Mutex
	cancels := 0
	results := race(16, func(i int) (ir.Amount, error) {
		if i%2 == 0 {
			r, err := f.eng.Cancel(ctx, CancelRequest{Caller: ir.Owner(alice), StreamID: res.StreamID})
			if err == nil {
				cancelMu.Lock()
				cancels++
				cancelMu.Unlock()
			}
			return r.ToRecipient, err
		}
		r, err := f.eng.Claim(ctx, ClaimRequest{Caller: ir.Owner(bob), StreamID: res.StreamID})
		return r.Amount, err
	})

	for _, r := range results {
		if r.err != nil {
			code := CodeOf(r.err)
			assert.Contains(t, []ErrorCode{CodeInvalidState, CodeNothingToClaim}, code, "unexpected error %v", r.err)
		}
	}

	assert.Equal(t, 1, cancels, "exactly one cancel wins")
	assert.Equal(t, ir.StatusCancelled, f.stream(t, res.StreamID).Status)
	// Whatever the interleaving, bob ends with the accrued 300 and alice
	// with the unaccrued 700.
	assert.Equal(t, "300", f.balance(t, bob))
	assert.Equal(t, "999700", f.balance(t, alice))

	rep, err := f.eng.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Balanced)
	assert.True(t, rep.EscrowBalance.IsZero())
}

func TestConcurrentCreates_NeverOverdraw(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	_, err := f.eng.Fund(ctx, carol, ir.NewAmount(1000))
	require.NoError(t, err)

	results := race(20, func(int) (ir.Amount, error) {
		r, err := f.eng.Create(ctx, CreateRequest{
			Sender:    carol,
			Recipient: bob.String(),
			Amount:    ir.NewAmount(100),
			Duration:  100,
		})
		return r.TotalAmount, err
	})

	created := 0
	for _, r := range results {
		if r.err != nil {
			assert.True(t, IsInsufficientBalance(r.err), "unexpected error %v", r.err)
			continue
		}
		created++
	}
	assert.Equal(t, 10, created)
	assert.Equal(t, "0", f.balance(t, carol))

	n, err := f.eng.StreamCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	f.requireBalanced(t)
}
