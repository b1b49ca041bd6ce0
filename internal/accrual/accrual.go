// Package accrual computes how much of a stream has become claimable.
//
// Every function here is pure: it reads a stream snapshot and a wall-clock
// time and never touches storage. The engine calls it inside the same
// transaction that applies the result, so the value is authoritative only at
// call time.
package accrual

import "github.com/roach88/streampay/internal/ir"

// BasisPoints is the denominator for fee rates.
const BasisPoints = 10_000

// Claimable returns the amount the recipient may claim at now.
//
// Zero when the stream is not ACTIVE or has not started. Otherwise the time
// since the last claim (capped at end_time) times the rate, bounded by what
// is left of total_amount.
func Claimable(s ir.Stream, now int64) ir.Amount {
	if s.Status != ir.StatusActive {
		return ir.Amount{}
	}
	if now < s.StartTime {
		return ir.Amount{}
	}

	effective := min(now, s.EndTime)
	elapsed := effective - s.LastClaimTime
	if elapsed <= 0 {
		return ir.Amount{}
	}

	remaining := s.Remaining()
	accrued, err := s.RatePerSecond.MulUint64(uint64(elapsed))
	if err != nil {
		// Overflow means the product is beyond any real remaining balance.
		return remaining
	}
	return ir.MinAmount(accrued, remaining)
}

// Vested returns claimed + claimable: the portion of total_amount earned so far.
func Vested(s ir.Stream, now int64) ir.Amount {
	v, err := s.ClaimedAmount.Add(Claimable(s, now))
	if err != nil {
		return s.TotalAmount
	}
	return v
}

// Split divides a stream's undisbursed funds for cancellation at now.
//
// toRecipient is what has accrued but not been claimed; toSender is the part
// that will never be earned. toRecipient + toSender == total - claimed.
func Split(s ir.Stream, now int64) (toRecipient, toSender ir.Amount) {
	toRecipient = Claimable(s, now)
	toSender, err := s.Remaining().Sub(toRecipient)
	if err != nil {
		return toRecipient, ir.Amount{}
	}
	return toRecipient, toSender
}

// Fee returns floor(amount * bps / 10000).
func Fee(amount ir.Amount, bps uint32) (ir.Amount, error) {
	scaled, err := amount.MulUint64(uint64(bps))
	if err != nil {
		return ir.Amount{}, err
	}
	return scaled.DivUint64(BasisPoints), nil
}

// RatePerSecond returns floor(total / duration). Duration must be positive.
func RatePerSecond(total ir.Amount, duration int64) ir.Amount {
	if duration <= 0 {
		return ir.Amount{}
	}
	return total.DivUint64(uint64(duration))
}

// Progress reports elapsed/duration in basis points, clamped to [0, 10000].
// Used by views only; never by fund-affecting code.
func Progress(s ir.Stream, now int64) uint32 {
	d := s.Duration()
	if d <= 0 || now <= s.StartTime {
		return 0
	}
	if now >= s.EndTime {
		return BasisPoints
	}
	// elapsed * 10000 can exceed int64 for very long streams.
	scaled, err := ir.NewAmount(uint64(now - s.StartTime)).MulUint64(BasisPoints)
	if err != nil {
		return BasisPoints
	}
	bps, _ := scaled.DivUint64(uint64(d)).Uint64()
	return uint32(bps)
}
