// Package engine implements the streampay ledger: stream creation, claims,
// cancellation and identity rebinding over a shared escrow pool.
//
// Every state-changing operation runs as one SQLite transaction. Fund
// movement, stream updates, registry changes and the audit events that
// describe them commit together or not at all, so a caller only ever sees
// one of two outcomes: the operation applied, or an *Error and no change.
//
// Events are handed to the configured Publisher only after commit. Anything
// downstream of the publisher (the mirror, notifications) is advisory and
// must never feed back into fund-affecting decisions.
//
// Authorisation has two modes, carried on ir.Caller:
//
//	owner     the caller is the stream's recipient (claim, rebind target)
//	          or sender (cancel)
//	operator  a configured backend address acting on the owner's behalf;
//	          funds still move to the owner
//
// Operator mode is disabled unless WithOperators names at least one address.
package engine
