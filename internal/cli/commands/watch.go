package commands

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/activity"
	"github.com/gulfconsultants/portal/internal/session"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive while you work",
		Long: `Runs the session in the foreground: the stored session is verified,
a heartbeat keeps it fresh, and every line typed on stdin counts as user
activity. The session ends after the idle timeout without input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd)
		},
	}
}

func runWatch(cmd *cobra.Command) error {
	ended := make(chan session.State, 1)
	onChange := func(state session.State) {
		if state.Initialized && !state.IsAuthenticated() {
			select {
			case ended <- state:
			default:
			}
		}
	}

	rt, err := openRuntime(cmd, onChange)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.manager.Start()
	if err := rt.manager.RequireAuth(); err != nil {
		return fmt.Errorf("%w. Please run 'portal login' first", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching session for %s (idle timeout %s)\n", rt.manager.User().Email, rt.cfg.Session.IdleTimeout)
	fmt.Fprintln(out, "Press Enter to record activity, Ctrl+C to stop.")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan struct{})
	// Scan cannot be interrupted; after ctx is done this goroutine stays
	// blocked until stdin yields a line or closes, then exits
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped, the session is still stored")
			return nil
		case state := <-ended:
			fmt.Fprintf(out, "Session ended (%s)\n", state.LastLogout)
			return nil
		case _, ok := <-lines:
			if !ok {
				// stdin closed; wait for the idle timeout or a signal
				lines = nil
				continue
			}
			if rt.manager.RecordActivity(activity.KeyDown) {
				rt.logger.Debug().Msg("Activity recorded")
			}
		}
	}
}
