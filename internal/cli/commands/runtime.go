package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gulfconsultants/portal/internal/activity"
	"github.com/gulfconsultants/portal/internal/apiclient"
	"github.com/gulfconsultants/portal/internal/clock"
	"github.com/gulfconsultants/portal/internal/config"
	"github.com/gulfconsultants/portal/internal/credstore"
	"github.com/gulfconsultants/portal/internal/heartbeat"
	"github.com/gulfconsultants/portal/internal/kvstore"
	"github.com/gulfconsultants/portal/internal/logger"
	"github.com/gulfconsultants/portal/internal/session"
)

const fallbackNone = "none"

// sessionRuntime is the wired client stack behind a command
type sessionRuntime struct {
	cfg     *config.ClientConfig
	api     *apiclient.Client
	store   *credstore.Store
	manager *session.Manager
	logger  zerolog.Logger
	closers []io.Closer
}

// loadClientConfig resolves the config file (--config, PORTAL_CONFIG, then
// discovery) and applies the --log-level override
func loadClientConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		found, err := config.FindClientConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg, err := config.LoadClient(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'portal init' to create a configuration file", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// openRuntime builds storage, the API client and the session manager.
// onChange may be nil. Callers must Close the runtime.
func openRuntime(cmd *cobra.Command, onChange func(session.State)) (*sessionRuntime, error) {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger.InitWithWriter(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	rt := &sessionRuntime{cfg: cfg, logger: logger.Logger}

	primary, err := rt.openBackend(cfg.Storage.Primary)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var fallback kvstore.Store
	if cfg.Storage.Fallback != fallbackNone {
		fallback, err = rt.openBackend(cfg.Storage.Fallback)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	clk := clock.New()
	rt.store = credstore.New(primary, fallback, clk, rt.logger, credstore.Options{
		Prefix: cfg.Storage.KeyPrefix,
	})

	rt.api = apiclient.New(cfg.APIURL, apiclient.Options{
		Timeout: cfg.RequestTimeout,
		Logger:  rt.logger,
	})

	rt.manager, err = session.New(rt.api, rt.store, clk, session.Options{
		SessionTTL:  cfg.Session.TTL,
		VerifyDelay: cfg.Session.VerifyDelay,
		Activity: activity.Options{
			Throttle:    cfg.Session.ActivityThrottle,
			IdleTimeout: cfg.Session.IdleTimeout,
		},
		Heartbeat: heartbeat.Options{
			Schedule: cfg.Session.HeartbeatSchedule,
			Timeout:  cfg.RequestTimeout,
		},
		Logger:   rt.logger,
		OnChange: onChange,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (rt *sessionRuntime) openBackend(kind string) (kvstore.Store, error) {
	store, err := kvstore.Open(kvstore.Kind(kind), kvstore.Options{
		Path:    rt.cfg.Storage.Path,
		Service: rt.cfg.Storage.KeyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", kind, err)
	}
	if closer, ok := store.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}
	return store, nil
}

// Close stops the manager's timers and releases storage. The persisted
// session is kept.
func (rt *sessionRuntime) Close() error {
	if rt.manager != nil {
		rt.manager.Close()
	}

	var errs []error
	for _, closer := range rt.closers {
		errs = append(errs, closer.Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
