package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const remoteLogoutTimeout = 5 * time.Second

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd)
		},
	}
}

func runLogout(cmd *cobra.Command) error {
	rt, err := openRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.manager.Start()
	out := cmd.OutOrStdout()

	user := rt.manager.User()
	if user != nil {
		// Best effort; the local session ends regardless
		ctx, cancel := context.WithTimeout(cmd.Context(), remoteLogoutTimeout)
		if err := rt.api.Logout(ctx); err != nil {
			rt.logger.Debug().Err(err).Msg("Server logout failed")
		}
		cancel()
	}

	rt.manager.Logout()

	if user == nil {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}
	fmt.Fprintf(out, "✓ Signed out %s\n", user.Email)
	return nil
}
