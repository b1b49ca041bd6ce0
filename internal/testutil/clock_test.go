package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtStart(t *testing.T) {
	c := NewManualClock(1000)
	assert.Equal(t, int64(1000), c.Now())
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(1000)

	assert.Equal(t, int64(1100), c.Advance(100))
	assert.Equal(t, int64(1100), c.Now())
}

func TestManualClock_Set(t *testing.T) {
	c := NewManualClock(1000)

	c.Set(5)
	assert.Equal(t, int64(5), c.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(0)
	const goroutines = 10
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Advance(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine), c.Now())
}
