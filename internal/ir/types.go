package ir

// Status is the lifecycle state of a stream.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED" // reserved; no transition produces it
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ValidStatuses defines the allowed status values.
var ValidStatuses = map[Status]bool{
	StatusActive:    true,
	StatusPaused:    true,
	StatusCompleted: true,
	StatusCancelled: true,
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Stream is a single escrowed, time-accruing payment.
type Stream struct {
	ID                    int64        `json:"id"`
	Sender                Address      `json:"sender"`
	Recipient             Address      `json:"recipient"`
	RecipientIdentityHash IdentityHash `json:"recipient_identity_hash"`
	TotalAmount           Amount       `json:"total_amount"`   // net of protocol fee
	ClaimedAmount         Amount       `json:"claimed_amount"` // monotonically non-decreasing
	RatePerSecond         Amount       `json:"rate_per_second"`
	StartTime             int64        `json:"start_time"`
	EndTime               int64        `json:"end_time"`
	LastClaimTime         int64        `json:"last_claim_time"`
	Status                Status       `json:"status"`
	Message               string       `json:"message"`
	CreatedAt             int64        `json:"created_at"`
}

// IdentityAddressed reports whether the stream was created for a social identity.
func (s Stream) IdentityAddressed() bool {
	return !s.RecipientIdentityHash.IsZero()
}

// Duration returns end_time - start_time in seconds.
func (s Stream) Duration() int64 {
	return s.EndTime - s.StartTime
}

// Remaining returns total_amount - claimed_amount.
// The invariant claimed <= total guarantees this never underflows for stored streams.
func (s Stream) Remaining() Amount {
	r, err := s.TotalAmount.Sub(s.ClaimedAmount)
	if err != nil {
		return Amount{}
	}
	return r
}

// RecipientState describes how a stream's recipient is bound.
type RecipientState string

const (
	RecipientWallet            RecipientState = "WALLET"
	RecipientUnclaimedIdentity RecipientState = "UNCLAIMED_IDENTITY"
	RecipientClaimedIdentity   RecipientState = "CLAIMED_IDENTITY"
)

// Binding maps an identity hash to the address currently entitled to act for it.
type Binding struct {
	IdentityHash IdentityHash `json:"identity_hash"`
	Address      Address      `json:"address"`
	Claimed      bool         `json:"claimed"` // false while Address is a placeholder
	CreatedAt    int64        `json:"created_at"`
	UpdatedAt    int64        `json:"updated_at"`
}

// Pool holds the shared escrow balance and the collected protocol fees.
type Pool struct {
	EscrowBalance Amount  `json:"escrow_balance"`
	FeeCollected  Amount  `json:"fee_collected"`
	FeeBPS        uint32  `json:"fee_bps"`
	Admin         Address `json:"admin"`
	InitializedAt int64   `json:"initialized_at"`
}

// Authority selects how a caller is authorised for an operation.
type Authority int

const (
	// AuthorityOwner means the caller acts as itself and must be the
	// stream's sender (cancel) or recipient (claim).
	AuthorityOwner Authority = iota

	// AuthorityOperator means a configured backend operator acts on behalf
	// of the owner. Funds still move to the owner, never to the operator.
	AuthorityOperator
)

// String implements fmt.Stringer.
func (a Authority) String() string {
	switch a {
	case AuthorityOwner:
		return "owner"
	case AuthorityOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Caller identifies who is invoking an engine operation and in which capacity.
type Caller struct {
	Address   Address   `json:"address"`
	Authority Authority `json:"authority"`
}

// Owner returns a caller acting as itself.
func Owner(addr Address) Caller {
	return Caller{Address: addr, Authority: AuthorityOwner}
}

// Operator returns a caller acting through the operator capability.
func Operator(addr Address) Caller {
	return Caller{Address: addr, Authority: AuthorityOperator}
}
