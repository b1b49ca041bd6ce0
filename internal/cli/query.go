package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/identity"
	"github.com/roach88/streampay/internal/ir"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <stream-id>",
		Short: "Show a stream with its claimable amount and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				id, err := parseStreamID(args[0])
				if err != nil {
					return nil, err
				}
				return s.engine.View(ctx, id)
			})
		},
	}
}

// ClaimableResult is the output of claimable.
type ClaimableResult struct {
	StreamID  int64     `json:"stream_id"`
	Claimable ir.Amount `json:"claimable"`
	At        int64     `json:"at"`
}

// NewClaimableCommand creates the claimable command.
func NewClaimableCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claimable <stream-id>",
		Short: "Print what the recipient could claim now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				id, err := parseStreamID(args[0])
				if err != nil {
					return nil, err
				}
				amt, err := s.engine.Claimable(ctx, id)
				if err != nil {
					return nil, err
				}
				return ClaimableResult{StreamID: id, Claimable: amt, At: s.engine.Now()}, nil
			})
		},
	}
}

// AccountStreams is the output of list for one address.
type AccountStreams struct {
	Address  ir.Address  `json:"address"`
	Balance  ir.Amount   `json:"balance"`
	Outgoing []ir.Stream `json:"outgoing"`
	Incoming []ir.Stream `json:"incoming"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list [address]",
		Short: "List streams, or an account's streams and balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				if len(args) == 0 {
					return s.engine.Streams(ctx, after, limit)
				}
				addr, err := parseAddress("address", args[0])
				if err != nil {
					return nil, err
				}
				return accountStreams(ctx, s.engine, addr)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "list streams with id above this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum streams to list")
	return cmd
}

func accountStreams(ctx context.Context, eng *engine.Engine, addr ir.Address) (AccountStreams, error) {
	res := AccountStreams{Address: addr, Outgoing: []ir.Stream{}, Incoming: []ir.Stream{}}
	var err error
	if res.Balance, err = eng.Balance(ctx, addr); err != nil {
		return AccountStreams{}, err
	}
	load := func(ids []int64) ([]ir.Stream, error) {
		out := make([]ir.Stream, 0, len(ids))
		for _, id := range ids {
			st, err := eng.GetStream(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
		return out, nil
	}
	ids, err := eng.OutgoingStreams(ctx, addr)
	if err != nil {
		return AccountStreams{}, err
	}
	if res.Outgoing, err = load(ids); err != nil {
		return AccountStreams{}, err
	}
	if ids, err = eng.IncomingStreams(ctx, addr); err != nil {
		return AccountStreams{}, err
	}
	if res.Incoming, err = load(ids); err != nil {
		return AccountStreams{}, err
	}
	return res, nil
}

// Stats is the output of stats.
type Stats struct {
	Pool    ir.Pool            `json:"pool"`
	Streams int64              `json:"streams"`
	Audit   engine.AuditReport `json:"audit"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pool totals and the escrow audit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				var st Stats
				var err error
				if st.Pool, err = s.engine.Pool(ctx); err != nil {
					return nil, err
				}
				if st.Streams, err = s.engine.StreamCount(ctx); err != nil {
					return nil, err
				}
				if st.Audit, err = s.engine.Audit(ctx); err != nil {
					return nil, err
				}
				if !st.Audit.Balanced {
					s.logger.Error("escrow audit failed",
						"escrow", st.Audit.EscrowBalance.String(),
						"outstanding", st.Audit.Outstanding.String())
				}
				return st, nil
			})
		},
	}
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <identity-or-hash>",
		Short: "Show the address bound to an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				h, err := parseIdentityHash(args[0])
				if err != nil {
					return nil, err
				}
				return s.engine.ResolveIdentity(ctx, h)
			})
		},
	}
}

// HashResult is the output of hash.
type HashResult struct {
	Identity string          `json:"identity"`
	Hash     ir.IdentityHash `json:"hash"`
	Channel  string          `json:"channel"`
}

// NewHashCommand creates the hash command. It needs no database.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <identity>",
		Short: "Normalise an identity and print its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			id, err := identity.Parse(args[0])
			if err != nil {
				return out.Fail(NewExitError(ExitCommandError, err.Error()))
			}
			return out.Success(HashResult{Identity: id.String(), Hash: id.Hash(), Channel: id.Channel()})
		},
	}
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the audit event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				evs, err := s.engine.Events(ctx, after, limit)
				if err != nil {
					return nil, err
				}
				if evs == nil {
					evs = []ir.Event{}
				}
				return evs, nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events with seq above this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events (0 = all)")
	return cmd
}
