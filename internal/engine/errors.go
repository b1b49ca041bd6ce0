package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeNotFound: the stream or identity binding does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeNotAuthorized: the caller may not act on the stream, or the
	// presented identity hash does not match the stream's.
	CodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"

	// CodeInvalidArgument: malformed or out-of-range input.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeInvalidState: the stream or binding is not in the required state.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeNothingToClaim: claimable amount is zero.
	CodeNothingToClaim ErrorCode = "NOTHING_TO_CLAIM"

	// CodeInsufficientPoolFunds: escrow cannot cover a disbursement. This
	// signals a broken ledger invariant, not a user error.
	CodeInsufficientPoolFunds ErrorCode = "INSUFFICIENT_POOL_FUNDS"

	// CodeInsufficientBalance: the sender cannot fund a create.
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// CodeNotInitialized: Initialize has not been called.
	CodeNotInitialized ErrorCode = "NOT_INITIALIZED"
)

// Error is the single error kind every engine operation reports on a
// rejected request. Infrastructure failures (I/O, corrupt rows) are returned
// as ordinary wrapped errors instead.
type Error struct {
	Code     ErrorCode
	Message  string
	StreamID int64 // 0 when the error is not about a particular stream
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StreamID != 0 {
		return fmt.Sprintf("%s: %s (stream=%d)", e.Code, e.Message, e.StreamID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, streamID int64, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), StreamID: streamID}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsNotAuthorized reports whether err is a not-authorized error.
func IsNotAuthorized(err error) bool { return CodeOf(err) == CodeNotAuthorized }

// IsInvalidArgument reports whether err is an invalid-argument error.
func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }

// IsNothingToClaim reports whether err is a nothing-to-claim error.
func IsNothingToClaim(err error) bool { return CodeOf(err) == CodeNothingToClaim }

// IsInsufficientPoolFunds reports whether err signals an escrow shortfall.
func IsInsufficientPoolFunds(err error) bool { return CodeOf(err) == CodeInsufficientPoolFunds }

// IsInsufficientBalance reports whether err is an insufficient-balance error.
func IsInsufficientBalance(err error) bool { return CodeOf(err) == CodeInsufficientBalance }

// IsNotInitialized reports whether err is a not-initialized error.
func IsNotInitialized(err error) bool { return CodeOf(err) == CodeNotInitialized }

// Retriable reports whether retrying the same request may succeed after
// state changes elsewhere. Only not-found and nothing-to-claim qualify;
// authorisation and argument errors need different inputs.
func Retriable(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeNothingToClaim:
		return true
	default:
		return false
	}
}
