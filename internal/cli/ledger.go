package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/identity"
	"github.com/roach88/streampay/internal/ir"
)

// callerFlags are shared by commands acting on a stream.
type callerFlags struct {
	As       string
	Operator bool
}

func (c *callerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.As, "as", "", "caller address (required)")
	cmd.Flags().BoolVar(&c.Operator, "as-operator", false, "act with operator authority on the owner's behalf")
	_ = cmd.MarkFlagRequired("as")
}

func (c *callerFlags) caller() (ir.Caller, error) {
	addr, err := parseAddress("as", c.As)
	if err != nil {
		return ir.Caller{}, err
	}
	if c.Operator {
		return ir.Operator(addr), nil
	}
	return ir.Owner(addr), nil
}

func parseAddress(flag, s string) (ir.Address, error) {
	a, err := ir.ParseAddress(s)
	if err != nil {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("--%s: %v", flag, err))
	}
	return a, nil
}

func parseAmount(name, s string) (ir.Amount, error) {
	if s == "" {
		return ir.Amount{}, nil
	}
	a, err := ir.ParseAmount(s)
	if err != nil {
		return ir.Amount{}, NewExitError(ExitCommandError, fmt.Sprintf("%s: %v", name, err))
	}
	return a, nil
}

func parseStreamID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid stream id %q", s))
	}
	return id, nil
}

// parseIdentityHash accepts an identity ("email:a@b.c", "@handle") or a
// 64-digit hex hash.
func parseIdentityHash(s string) (ir.IdentityHash, error) {
	if id, err := identity.Parse(s); err == nil {
		return id.Hash(), nil
	}
	h, err := ir.ParseIdentityHash(s)
	if err != nil || h.IsZero() {
		return ir.IdentityHash{}, NewExitError(ExitCommandError, fmt.Sprintf("--identity: %q is neither an identity nor a hash", s))
	}
	return h, nil
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the escrow pool",
		Long: `Initialize the escrow pool with the configured fee.

Example:
  streampay init --admin 0x…`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				addr, err := parseAddress("admin", admin)
				if err != nil {
					return nil, err
				}
				return s.engine.Initialize(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin address (required)")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

// FundResult is the output of fund.
type FundResult struct {
	Address ir.Address `json:"address"`
	Balance ir.Amount  `json:"balance"`
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <address> <amount>",
		Short: "Credit tokens to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				addr, err := parseAddress("address", args[0])
				if err != nil {
					return nil, err
				}
				amount, err := parseAmount("amount", args[1])
				if err != nil {
					return nil, err
				}
				balance, err := s.engine.Fund(ctx, addr, amount)
				if err != nil {
					return nil, err
				}
				return FundResult{Address: addr, Balance: balance}, nil
			})
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		from, to, amount, message string
		duration, start           int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stream",
		Long: `Escrow an amount that accrues to the recipient over a duration.

The recipient is a wallet address or an identity; identities get a
placeholder address until their owner binds a wallet with rebind.

Examples:
  streampay create --from 0x… --to 0x… --amount 1000000 --duration 86400
  streampay create --from 0x… --to email:bob@example.com --amount 500 --duration 3600 --message "thanks"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				sender, err := parseAddress("from", from)
				if err != nil {
					return nil, err
				}
				amt, err := parseAmount("--amount", amount)
				if err != nil {
					return nil, err
				}
				req := engine.CreateRequest{
					Sender:    sender,
					Recipient: to,
					Amount:    amt,
					Duration:  duration,
					Message:   message,
				}
				if cmd.Flags().Changed("start") {
					req.StartTime = &start
				}
				return s.engine.Create(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient wallet or identity (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "gross amount, fee included (required)")
	cmd.Flags().Int64Var(&duration, "duration", 0, "duration in seconds (required)")
	cmd.Flags().Int64Var(&start, "start", 0, "start time as unix seconds (default: now)")
	cmd.Flags().StringVar(&message, "message", "", "note for the recipient")
	for _, f := range []string{"from", "to", "amount", "duration"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cf             callerFlags
		amount, intent string
	)
	cmd := &cobra.Command{
		Use:   "claim <stream-id>",
		Short: "Claim accrued tokens",
		Long: `Pay the recipient what has accrued since the last claim.

--amount caps the payout; --intent makes retries safe: repeating a claim
with the same key returns the first result without paying twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				id, err := parseStreamID(args[0])
				if err != nil {
					return nil, err
				}
				caller, err := cf.caller()
				if err != nil {
					return nil, err
				}
				amt, err := parseAmount("--amount", amount)
				if err != nil {
					return nil, err
				}
				return s.engine.Claim(ctx, engine.ClaimRequest{Caller: caller, StreamID: id, Amount: amt, IntentKey: intent})
			})
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVar(&amount, "amount", "", "claim at most this much (default: everything claimable)")
	cmd.Flags().StringVar(&intent, "intent", "", "idempotency key")
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var cf callerFlags
	cmd := &cobra.Command{
		Use:   "cancel <stream-id>",
		Short: "Cancel a stream and split the remainder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				id, err := parseStreamID(args[0])
				if err != nil {
					return nil, err
				}
				caller, err := cf.caller()
				if err != nil {
					return nil, err
				}
				return s.engine.Cancel(ctx, engine.CancelRequest{Caller: caller, StreamID: id})
			})
		},
	}
	cf.bind(cmd)
	return cmd
}

// NewRebindCommand creates the rebind command.
func NewRebindCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cf                        callerFlags
		ident, to, amount, intent string
		claim                     bool
	)
	cmd := &cobra.Command{
		Use:   "rebind <stream-id>",
		Short: "Bind a stream's identity to a wallet",
		Long: `Move every stream of an identity from its placeholder to a wallet.

With --claim the rebind and a claim happen atomically.

Example:
  streampay rebind 7 --as 0x… --identity email:bob@example.com --to 0x… --claim`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				id, err := parseStreamID(args[0])
				if err != nil {
					return nil, err
				}
				caller, err := cf.caller()
				if err != nil {
					return nil, err
				}
				h, err := parseIdentityHash(ident)
				if err != nil {
					return nil, err
				}
				newAddr, err := parseAddress("to", to)
				if err != nil {
					return nil, err
				}
				if !claim {
					return s.engine.Rebind(ctx, engine.RebindRequest{Caller: caller, StreamID: id, IdentityHash: h, NewAddress: newAddr})
				}
				amt, err := parseAmount("--amount", amount)
				if err != nil {
					return nil, err
				}
				return s.engine.ClaimWithIdentity(ctx, engine.IdentityClaimRequest{
					Caller: caller, StreamID: id, IdentityHash: h, NewAddress: newAddr, Amount: amt, IntentKey: intent,
				})
			})
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVar(&ident, "identity", "", "the stream's identity or its hash (required)")
	cmd.Flags().StringVar(&to, "to", "", "wallet to bind (required)")
	cmd.Flags().BoolVar(&claim, "claim", false, "claim in the same transaction")
	cmd.Flags().StringVar(&amount, "amount", "", "with --claim: claim at most this much")
	cmd.Flags().StringVar(&intent, "intent", "", "with --claim: idempotency key")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
