// Package cli implements caseworkctl, the operator command line for the
// casework API.
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the caseworkctl command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "caseworkctl",
		Short: "Operate the casework assignment engine",
		Long: `caseworkctl talks to a running casework server.

Set CASEWORK_URL (default http://localhost:8080) and CASEWORK_TOKEN.
'caseworkctl token' mints a token locally from JWT_SIGNING_KEY.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(SeedCmd())
	rootCmd.AddCommand(QueueCmd())
	rootCmd.AddCommand(DispatchCmd())
	rootCmd.AddCommand(SweepCmd())
	rootCmd.AddCommand(AssignmentCmd())
	rootCmd.AddCommand(AvailabilityCmd())
	rootCmd.AddCommand(OverrideCmd())
	rootCmd.AddCommand(EscalationCmd())
	return rootCmd
}

// Execute runs the command tree, cancelling on interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
