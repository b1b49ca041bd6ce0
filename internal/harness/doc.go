// Package harness runs ledger scenarios written in YAML.
//
// A scenario drives a fresh in-memory ledger with a manual clock, checks
// each step's outcome and the final state, and produces a readable event
// trace for golden-file comparison.
//
// # Scenario Format
//
//	name: claim_midway
//	description: "Half the duration pays half the stream"
//	fee_bps: 0
//	steps:
//	  - op: init
//	    as: admin
//	  - op: fund
//	    as: alice
//	    amount: "1000"
//	  - op: create
//	    as: alice
//	    to: bob                  # or an identity: "email:bob@example.com"
//	    amount: "1000"
//	    duration: 100
//	    save: s1
//	  - op: advance
//	    seconds: 50
//	  - op: claim
//	    as: bob
//	    stream: s1
//	    expect:
//	      result: { amount: "500" }
//	assertions:
//	  - type: balance
//	    actor: bob
//	    equals: "500"
//	  - type: balanced
//
// Actors are names mapped to fixed addresses (see ActorAddress) or literal
// "0x" addresses. In traces, addresses print as actor names and placeholder
// recipients as "placeholder(<identity>)".
//
// # Steps
//
// init, fund, create, claim, cancel, rebind, claim_identity and advance.
// A step without expect must succeed; expect.error names the engine error
// code a failing step must return.
//
// # Assertions
//
//   - stream: subset match on a saved stream's fields
//   - claimable: the stream's claimable amount
//   - balance: an actor's account balance
//   - pool: subset match on the pool
//   - event_count: number of events of a kind
//   - event_order: relative order of first occurrences
//   - balanced: escrow equals the outstanding amount of active streams
package harness
