package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/apiclient"
	"github.com/gulfconsultants/portal/internal/config"
)

type initOptions struct {
	global    bool
	skipCheck bool
}

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init <api-url>",
		Short: "Create a portal.yaml pointing at a portal API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitWithOptions(cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.global, "global", false, "Write to ~/.config/portal instead of the current directory")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Do not contact the API")

	return cmd
}

func initConfigPath(global bool) (string, error) {
	if global {
		dir, err := config.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, config.ClientConfigFileName), nil
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return filepath.Join(currentDir, config.ClientConfigFileName), nil
}

func runInitWithOptions(out io.Writer, args []string, opts *initOptions) error {
	apiURL := args[0]

	configPath, err := initConfigPath(opts.global)
	if err != nil {
		return err
	}

	var cfg *config.ClientConfig
	isNewConfig := false

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.LoadClient(configPath)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		fmt.Fprintf(out, "Found existing %s\n", configPath)
	} else {
		cfg = config.DefaultClientConfig()
		isNewConfig = true
	}

	if !isNewConfig && cfg.APIURL == apiURL {
		fmt.Fprintf(out, "API %s is already configured\n", apiURL)
	} else {
		cfg.APIURL = apiURL
		if err := config.SaveClient(configPath, cfg); err != nil {
			return err
		}

		if isNewConfig {
			fmt.Fprintf(out, "✓ Created %s for %s\n", configPath, apiURL)
		} else {
			fmt.Fprintf(out, "✓ Updated %s to use %s\n", configPath, apiURL)
		}
	}

	if !opts.skipCheck {
		api := apiclient.New(apiURL, apiclient.Options{Timeout: healthTimeout, MaxRetries: -1, Logger: zerolog.Nop()})
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		health, err := api.Health(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "⚠ Could not reach the API: %v\n", err)
		} else {
			fmt.Fprintf(out, "✓ API is %s (version %s)\n", health.Status, health.Version)
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run 'portal register' to create an account, or")
	fmt.Fprintln(out, "  2. Run 'portal login' to sign in")

	return nil
}
