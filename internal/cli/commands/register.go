package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/apiclient"
)

type registerOptions struct {
	email     string
	password  string
	firstName string
	lastName  string
	phone     string
}

// NewRegisterCmd creates the register command
func NewRegisterCmd() *cobra.Command {
	opts := &registerOptions{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a client account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "Email address (or set PORTAL_EMAIL)")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password (or set PORTAL_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&opts.firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&opts.lastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "Phone number")

	return cmd
}

func runRegister(cmd *cobra.Command, opts *registerOptions) error {
	email := fromEnv(opts.email, "PORTAL_EMAIL")
	password := fromEnv(opts.password, "PORTAL_PASSWORD")

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

	user, err := rt.manager.Register(cmd.Context(), apiclient.Registration{
		Email:     email,
		Password:  password,
		FirstName: opts.firstName,
		LastName:  opts.lastName,
		Phone:     opts.phone,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %s", rt.manager.Snapshot().Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Account created, you are signed in")
	printUser(out, user)

	return nil
}
