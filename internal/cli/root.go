package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/identity"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DB      string
	Mirror  string
	Config  string
	EnvFile string

	// Clock and Nonces replace the system clock and UUID nonces in tests.
	Clock  engine.Clock
	Nonces identity.NonceSource
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the streampay CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streampay",
		Short: "streampay - token streaming escrow",
		Long: `A ledger for time-accruing token streams.

Senders escrow an amount that accrues to the recipient linearly over a
duration. Recipients may be wallets or off-chain identities (email or
social handles) that bind a wallet later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.DB, "db", "", "ledger database path (overrides config)")
	pf.StringVar(&opts.Mirror, "mirror", "", "mirror database path (overrides config)")
	pf.StringVar(&opts.Config, "config", "", "CUE or JSON config file")
	pf.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with STREAMPAY_* settings")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewClaimCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewRebindCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewClaimableCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewMirrorCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
