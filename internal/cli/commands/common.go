package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gulfconsultants/portal/internal/account"
)

// fromEnv returns value, or the environment variable key when value is empty
func fromEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

// promptPassword reads a password without echo. It fails when stdin is not
// a terminal so scripts get an error instead of a hang.
func promptPassword(cmd *cobra.Command, hint string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (%s)", hint)
	}

	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func printUser(out io.Writer, user *account.User) {
	fmt.Fprintf(out, "  User: %s (%s)\n", user.DisplayName(), user.Email)
	fmt.Fprintf(out, "  Role: %s\n", roleLabel(user.Role))
}

func roleLabel(role account.Role) string {
	switch role {
	case account.RoleSuperAdmin:
		return "Super admin"
	case account.RoleAdmin:
		return "Admin"
	case account.RoleClient:
		return "Client"
	default:
		return strings.TrimSpace(string(role))
	}
}

// formatRemaining renders a duration rounded to minutes, e.g. "6d 23h 59m"
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
