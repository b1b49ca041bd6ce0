package engine

import "time"

// Clock supplies wall-clock time in unix seconds. Accrual is computed from
// this value, so tests inject a manual clock to make it deterministic.
type Clock interface {
	Now() int64
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
