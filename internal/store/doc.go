// Package store provides SQLite-backed durable storage for the streampay ledger.
//
// The store holds:
//   - Streams: append-only table indexed by sequential id, never deleted
//   - Identity bindings: identity_hash <-> address, unique in both directions
//   - Pool: singleton row with the escrow balance and collected fees
//   - Accounts: token balances the engine debits on create and credits on payout
//   - Events: append-only audit log ordered by seq
//   - Claim intents: idempotency keys for claim submissions
//
// # Unit of Work
//
// Every engine operation runs inside WithTx. The connection pool is limited to
// one connection and transactions begin IMMEDIATE, so a second writer waits
// on busy_timeout instead of interleaving. Either every row written in fn
// commits or none does.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Amounts are stored as base-10 TEXT; SQLite integers are only 64 bits wide.
package store
