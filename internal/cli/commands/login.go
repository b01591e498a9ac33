package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/apiclient"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set PORTAL_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PORTAL_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, email, password string) error {
	// Environment variables are useful for CI/CD
	email = fromEnv(email, "PORTAL_EMAIL")
	password = fromEnv(password, "PORTAL_PASSWORD")

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or PORTAL_EMAIL env var)")
	}

	if password == "" {
		var err error
		password, err = promptPassword(cmd, "use --password flag or PORTAL_PASSWORD env var")
		if err != nil {
			return err
		}
	}

	rt, err := openRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Signing in to %s...\n", rt.cfg.APIURL)

	user, err := rt.manager.Login(cmd.Context(), apiclient.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %s", rt.manager.Snapshot().Error)
	}

	fmt.Fprintln(out, "✓ Login successful!")
	printUser(out, user)
	if expiresAt, ok := rt.manager.SessionExpiry(); ok {
		fmt.Fprintf(out, "  Session expires: %s\n", expiresAt.Local().Format("2006-01-02 15:04"))
	}

	return nil
}
