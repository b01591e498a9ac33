package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the portal command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Portal - job placement portal client",
		Long: `Portal CLI - Sign in to the job placement portal and manage your session.

The session is stored locally and restored on the next run. It expires after
its lifetime, after 48 hours without activity, or when the server rejects it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to portal.yaml (default: discovered, or PORTAL_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portal version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewRegisterCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewWhoamiCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewWatchCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
