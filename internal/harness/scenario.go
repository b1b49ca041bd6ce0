package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run of the ledger: a sequence of operations with
// expected outcomes, followed by assertions on the final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Start is the clock's initial unix time. Default: DefaultStart.
	Start int64 `yaml:"start,omitempty"`

	// FeeBPS overrides the engine fee when set.
	FeeBPS *uint32 `yaml:"fee_bps,omitempty"`

	// Operators lists actors granted operator authority.
	Operators []string `yaml:"operators,omitempty"`

	// Steps run in order against one fresh ledger.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation. Actors are names ("alice") or literal addresses.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// As is the calling actor.
	As string `yaml:"as,omitempty"`

	// Operator makes the call with operator authority instead of as owner.
	Operator bool `yaml:"operator,omitempty"`

	// To is the create recipient: an actor or an identity ("email:x@y").
	To string `yaml:"to,omitempty"`

	Amount   string `yaml:"amount,omitempty"`
	Duration int64  `yaml:"duration,omitempty"`
	StartAt  *int64 `yaml:"start_at,omitempty"`
	Message  string `yaml:"message,omitempty"`

	// Stream refers to a stream saved by an earlier create.
	Stream string `yaml:"stream,omitempty"`

	// Save names the stream a create produces.
	Save string `yaml:"save,omitempty"`

	// NewAddress is the actor a rebind binds the identity to.
	NewAddress string `yaml:"new_address,omitempty"`

	// Intent is an idempotency key for claims.
	Intent string `yaml:"intent,omitempty"`

	// Seconds moves the clock forward (advance).
	Seconds int64 `yaml:"seconds,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpInit          = "init"
	OpFund          = "fund"
	OpCreate        = "create"
	OpClaim         = "claim"
	OpCancel        = "cancel"
	OpRebind        = "rebind"
	OpClaimIdentity = "claim_identity"
	OpAdvance       = "advance"
)

var validOps = map[string]bool{
	OpInit: true, OpFund: true, OpCreate: true, OpClaim: true,
	OpCancel: true, OpRebind: true, OpClaimIdentity: true, OpAdvance: true,
}

// Expect describes a step's outcome.
type Expect struct {
	// Error is the expected engine error code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Result is a subset match against the operation's JSON result.
	// Nested fields use dots ("claim.amount").
	Result map[string]string `yaml:"result,omitempty"`
}

// Assertion checks the final ledger.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Stream names a saved stream (stream).
	Stream string `yaml:"stream,omitempty"`

	// Actor is the account holder (balance).
	Actor string `yaml:"actor,omitempty"`

	// Equals is the expected amount (balance, claimable).
	Equals string `yaml:"equals,omitempty"`

	// Fields is a subset match (stream, pool).
	Fields map[string]string `yaml:"fields,omitempty"`

	// Kind and Count check the event log (event_count).
	Kind  string `yaml:"kind,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Kinds must appear in this relative order (event_order).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion types.
const (
	AssertStream     = "stream"
	AssertBalance    = "balance"
	AssertClaimable  = "claimable"
	AssertPool       = "pool"
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
	AssertBalanced   = "balanced"
)

// LoadScenario reads a scenario file. Unknown keys are rejected so typos
// fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	saved := map[string]bool{}
	for i, st := range s.Steps {
		if !validOps[st.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
		}
		switch st.Op {
		case OpAdvance:
			if st.Seconds <= 0 {
				return fmt.Errorf("steps[%d]: advance needs positive seconds", i)
			}
			continue
		case OpCreate:
			if st.To == "" {
				return fmt.Errorf("steps[%d]: create needs to", i)
			}
			if st.Save != "" {
				if saved[st.Save] {
					return fmt.Errorf("steps[%d]: stream name %q saved twice", i, st.Save)
				}
				saved[st.Save] = true
			}
		case OpClaim, OpCancel, OpRebind, OpClaimIdentity:
			if !saved[st.Stream] {
				return fmt.Errorf("steps[%d]: unknown stream %q", i, st.Stream)
			}
		}
		if st.As == "" {
			return fmt.Errorf("steps[%d]: as is required", i)
		}
		if (st.Op == OpRebind || st.Op == OpClaimIdentity) && st.NewAddress == "" {
			return fmt.Errorf("steps[%d]: %s needs new_address", i, st.Op)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, saved); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion, saved map[string]bool) error {
	switch a.Type {
	case AssertStream, AssertClaimable:
		if !saved[a.Stream] {
			return fmt.Errorf("assertions[%d]: unknown stream %q", i, a.Stream)
		}
		if a.Type == AssertClaimable && a.Equals == "" {
			return fmt.Errorf("assertions[%d]: claimable needs equals", i)
		}
	case AssertBalance:
		if a.Actor == "" || a.Equals == "" {
			return fmt.Errorf("assertions[%d]: balance needs actor and equals", i)
		}
	case AssertPool:
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: pool needs fields", i)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: event_count needs kind", i)
		}
	case AssertEventOrder:
		if len(a.Kinds) < 2 {
			return fmt.Errorf("assertions[%d]: event_order needs at least 2 kinds", i)
		}
	case AssertBalanced:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
	return nil
}
