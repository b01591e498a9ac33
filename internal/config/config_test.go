package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("requires jwt secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef0123")
		t.Setenv("DATABASE_URL", "")
		t.Setenv("PORT", "")
		t.Setenv("JWT_TTL", "")
		t.Setenv("CORS_ORIGINS", "")
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "portal.sqlite", cfg.Database.URL)
		assert.Equal(t, "8080", cfg.HTTP.Port)
		assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
		assert.Empty(t, cfg.HTTP.CORSOrigins)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef0123")
		t.Setenv("PORT", "9090")
		t.Setenv("JWT_TTL", "1h")
		t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://portal.example.com")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.HTTP.Port)
		assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
		assert.Equal(t, []string{"http://localhost:3000", "https://portal.example.com"}, cfg.HTTP.CORSOrigins)
	})

	t.Run("rejects short secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "short")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("rejects bad ttl", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef0123")
		t.Setenv("JWT_TTL", "a week")
		_, err := Load()
		require.Error(t, err)
	})
}

func clearClientEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORTAL_API_URL", "PORTAL_REQUEST_TIMEOUT", "PORTAL_STORAGE_PRIMARY",
		"PORTAL_STORAGE_FALLBACK", "PORTAL_STORAGE_PATH", "PORTAL_KEY_PREFIX",
		"PORTAL_KEYRING_SERVICE", "PORTAL_SESSION_TTL", "PORTAL_IDLE_TIMEOUT",
		"PORTAL_ACTIVITY_THROTTLE", "PORTAL_HEARTBEAT_SCHEDULE", "PORTAL_VERIFY_DELAY",
		"PORTAL_CONFIG", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadClient_Defaults(t *testing.T) {
	clearClientEnv(t)

	cfg, err := LoadClient("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Primary)
	assert.Equal(t, "keyring", cfg.Storage.Fallback)
	assert.Equal(t, "placement_", cfg.Storage.KeyPrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.ActivityThrottle)
	assert.Equal(t, "@every 10m", cfg.Session.HeartbeatSchedule)
	assert.Equal(t, 2*time.Second, cfg.Session.VerifyDelay)
}

func TestLoadClient_FileThenEnv(t *testing.T) {
	clearClientEnv(t)

	path := filepath.Join(t.TempDir(), ClientConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://portal.example.com
storage:
  primary: keyring
  fallback: none
session:
  idle_timeout: 15m
  heartbeat_schedule: "@every 5m"
`), 0644))

	t.Setenv("PORTAL_IDLE_TIMEOUT", "45m")

	cfg, err := LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.com", cfg.APIURL)
	assert.Equal(t, "keyring", cfg.Storage.Primary)
	assert.Equal(t, "none", cfg.Storage.Fallback)
	assert.Equal(t, "placement_", cfg.Storage.KeyPrefix, "unset keys keep defaults")
	assert.Equal(t, 45*time.Minute, cfg.Session.IdleTimeout, "env wins over file")
	assert.Equal(t, "@every 5m", cfg.Session.HeartbeatSchedule)
}

func TestLoadClient_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad backend", env: map[string]string{"PORTAL_STORAGE_PRIMARY": "s3"}},
		{name: "bad url", env: map[string]string{"PORTAL_API_URL": "not a url"}},
		{name: "bad duration", env: map[string]string{"PORTAL_SESSION_TTL": "forever"}},
		{name: "zero idle timeout", env: map[string]string{"PORTAL_IDLE_TIMEOUT": "0s"}},
		{name: "bad yaml", file: "api_url: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearClientEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), ClientConfigFileName)
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
			}

			_, err := LoadClient(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveClient_RoundTrip(t *testing.T) {
	clearClientEnv(t)

	path := filepath.Join(t.TempDir(), "nested", ClientConfigFileName)
	cfg := DefaultClientConfig()
	cfg.APIURL = "https://portal.example.com"
	cfg.Session.IdleTimeout = 20 * time.Minute

	require.NoError(t, SaveClient(path, cfg))

	loaded, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestFindClientConfigFile(t *testing.T) {
	clearClientEnv(t)

	t.Run("explicit path", func(t *testing.T) {
		t.Setenv("PORTAL_CONFIG", "/etc/portal.yaml")
		path, err := FindClientConfigFile()
		require.NoError(t, err)
		assert.Equal(t, "/etc/portal.yaml", path)
	})

	t.Run("parent directory", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv("HOME", root)
		child := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(child, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", ClientConfigFileName), []byte("{}"), 0644))

		t.Chdir(child)

		path, err := FindClientConfigFile()
		require.NoError(t, err)

		want, err := filepath.EvalSymlinks(filepath.Join(root, "a", ClientConfigFileName))
		require.NoError(t, err)
		got, err := filepath.EvalSymlinks(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}
