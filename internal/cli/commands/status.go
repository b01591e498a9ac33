package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const healthTimeout = 5 * time.Second

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show API reachability and the locally stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

// runStatus never contacts the session endpoints, so it cannot end the
// stored session
func runStatus(cmd *cobra.Command) error {
	rt, err := openRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API: %s\n", rt.cfg.APIURL)

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	health, err := rt.api.Health(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(out, "  Status: unreachable (%v)\n", err)
	} else {
		fmt.Fprintf(out, "  Status: %s (version %s)\n", health.Status, health.Version)
	}

	record := rt.store.Load()
	if record == nil {
		fmt.Fprintln(out, "Session: none")
		return nil
	}

	fmt.Fprintln(out, "Session: stored")
	printUser(out, record.User)
	if !record.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "  Expires in: %s\n", formatRemaining(time.Until(record.ExpiresAt)))
	}
	if !record.LastActivity.IsZero() {
		fmt.Fprintf(out, "  Last activity: %s\n", record.LastActivity.Local().Format("2006-01-02 15:04"))
	}
	if record.FromFallback {
		fmt.Fprintln(out, "  Source: fallback storage")
	}

	return nil
}
