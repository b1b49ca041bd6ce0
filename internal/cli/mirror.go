package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/mirror"
)

// NewMirrorCommand groups the mirror subcommands.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Maintain and read the off-chain stream mirror",
		Long: `The mirror is a separate read-optimised copy of stream state, fed by
ledger events. It is advisory and never used for payouts.`,
	}
	cmd.AddCommand(newMirrorSyncCommand(rootOpts))
	cmd.AddCommand(newMirrorShowCommand(rootOpts))
	return cmd
}

// SyncResult is the output of mirror sync.
type SyncResult struct {
	Applied int   `json:"applied"`
	Cursor  int64 `json:"cursor"`
}

func newMirrorSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply ledger events the mirror has not seen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				m, err := s.requireMirror()
				if err != nil {
					return nil, err
				}
				n, err := m.CatchUp(ctx)
				if err != nil {
					return nil, err
				}
				cursor, err := m.Cursor(ctx)
				if err != nil {
					return nil, err
				}
				return SyncResult{Applied: n, Cursor: cursor}, nil
			})
		},
	}
}

func newMirrorShowCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "show [stream-id]",
		Short: "Read a stream, or an address's streams, from the mirror",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session) (any, error) {
				m, err := s.requireMirror()
				if err != nil {
					return nil, err
				}
				if len(args) == 1 {
					id, err := parseStreamID(args[0])
					if err != nil {
						return nil, err
					}
					return m.Get(ctx, id)
				}
				if addr == "" {
					return nil, NewExitError(ExitCommandError, "give a stream id or --address")
				}
				a, err := parseAddress("address", addr)
				if err != nil {
					return nil, err
				}
				list, err := m.List(ctx, a)
				if err != nil {
					return nil, err
				}
				if list == nil {
					list = []ir.Stream{}
				}
				return list, nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "address", "", "list streams sent or received by this address")
	return cmd
}

func (s *session) requireMirror() (*mirror.Mirror, error) {
	if s.mirror == nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no mirror configured: pass --mirror or set mirror_path (db %s)", s.cfg.DBPath))
	}
	return s.mirror, nil
}
