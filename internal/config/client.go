package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ClientConfigFileName = "portal.yaml"
	configDirName        = "portal"
)

// ClientConfig holds the session client's settings. Values come from
// defaults, then portal.yaml, then PORTAL_* environment variables.
type ClientConfig struct {
	APIURL         string        `yaml:"api_url" validate:"required,url"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	Storage        StorageConfig `yaml:"storage"`
	Session        SessionConfig `yaml:"session"`
	Logging        LoggingConfig `yaml:"logging"`
}

// StorageConfig selects the credential backends
type StorageConfig struct {
	Primary        string `yaml:"primary" validate:"oneof=sqlite keyring memory"`
	Fallback       string `yaml:"fallback" validate:"oneof=sqlite keyring memory none"`
	Path           string `yaml:"path"`
	KeyPrefix      string `yaml:"key_prefix" validate:"required"`
	KeyringService string `yaml:"keyring_service" validate:"required"`
}

// SessionConfig holds the session lifecycle timings
type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl" validate:"gt=0"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ActivityThrottle  time.Duration `yaml:"activity_throttle" validate:"gt=0"`
	HeartbeatSchedule string        `yaml:"heartbeat_schedule" validate:"required"`
	VerifyDelay       time.Duration `yaml:"verify_delay" validate:"gte=0"`
}

// DefaultClientConfig returns the built-in client settings
func DefaultClientConfig() *ClientConfig {
	storagePath := "session.db"
	if dir, err := UserConfigDir(); err == nil {
		storagePath = filepath.Join(dir, "session.db")
	}

	return &ClientConfig{
		APIURL:         "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		Storage: StorageConfig{
			Primary:        "sqlite",
			Fallback:       "keyring",
			Path:           storagePath,
			KeyPrefix:      "placement_",
			KeyringService: "portal-cli",
		},
		Session: SessionConfig{
			TTL:               7 * 24 * time.Hour,
			IdleTimeout:       30 * time.Minute,
			ActivityThrottle:  time.Minute,
			HeartbeatSchedule: "@every 10m",
			VerifyDelay:       2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// UserConfigDir returns ~/.config/portal
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName), nil
}

// FindClientConfigFile returns PORTAL_CONFIG if set, otherwise the first
// portal.yaml found in the current directory or its parents, otherwise
// ~/.config/portal/portal.yaml. It returns "" when none exists.
func FindClientConfigFile() (string, error) {
	if path := os.Getenv("PORTAL_CONFIG"); path != "" {
		return path, nil
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	// Search upwards until we find portal.yaml or reach root
	dir := currentDir
	for {
		configPath := filepath.Join(dir, ClientConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if userDir, err := UserConfigDir(); err == nil {
		configPath := filepath.Join(userDir, ClientConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", nil
}

// LoadClient builds the client configuration. path may be "" to skip the
// YAML layer.
func LoadClient(path string) (*ClientConfig, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := DefaultClientConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveClient writes cfg as YAML, creating parent directories
func SaveClient(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *ClientConfig) applyEnv() error {
	setString(&c.APIURL, "PORTAL_API_URL")
	setString(&c.Storage.Primary, "PORTAL_STORAGE_PRIMARY")
	setString(&c.Storage.Fallback, "PORTAL_STORAGE_FALLBACK")
	setString(&c.Storage.Path, "PORTAL_STORAGE_PATH")
	setString(&c.Storage.KeyPrefix, "PORTAL_KEY_PREFIX")
	setString(&c.Storage.KeyringService, "PORTAL_KEYRING_SERVICE")
	setString(&c.Session.HeartbeatSchedule, "PORTAL_HEARTBEAT_SCHEDULE")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	return errors.Join(
		setDuration(&c.RequestTimeout, "PORTAL_REQUEST_TIMEOUT"),
		setDuration(&c.Session.TTL, "PORTAL_SESSION_TTL"),
		setDuration(&c.Session.IdleTimeout, "PORTAL_IDLE_TIMEOUT"),
		setDuration(&c.Session.ActivityThrottle, "PORTAL_ACTIVITY_THROTTLE"),
		setDuration(&c.Session.VerifyDelay, "PORTAL_VERIFY_DELAY"),
	)
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = d
	return nil
}
