package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/session"
)

// expiryWarning is how close to expiry whoami starts suggesting a new login
const expiryWarning = 24 * time.Hour

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Verify the stored session with the server and show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd)
		},
	}
}

func runWhoami(cmd *cobra.Command) error {
	rt, err := openRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.manager.Start()
	if err := rt.manager.RequireAuth(); err != nil {
		return fmt.Errorf("%w. Please run 'portal login' first", err)
	}

	if !rt.manager.RefreshSession(cmd.Context()) {
		return fmt.Errorf("session could not be verified, you have been signed out: %w. Please run 'portal login' again", session.ErrNotAuthenticated)
	}

	out := cmd.OutOrStdout()
	printUser(out, rt.manager.User())
	fmt.Fprintf(out, "  Expires in: %s\n", formatRemaining(rt.manager.TimeUntilExpiry()))
	if rt.manager.SessionExpiring(expiryWarning) {
		fmt.Fprintln(out, "  Session expires soon, run 'portal login' to renew it")
	}

	return nil
}
