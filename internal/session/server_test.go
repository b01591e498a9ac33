package session

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfconsultants/portal/internal/activity"
	"github.com/gulfconsultants/portal/internal/apiclient"
	"github.com/gulfconsultants/portal/internal/clock"
	"github.com/gulfconsultants/portal/internal/config"
	"github.com/gulfconsultants/portal/internal/credstore"
	"github.com/gulfconsultants/portal/internal/kvstore"
	"github.com/gulfconsultants/portal/internal/models"
	"github.com/gulfconsultants/portal/internal/server"
)

// liveEnv runs managers against the real API over HTTP
type liveEnv struct {
	srv      *server.Server
	url      string
	clock    *clock.Fake
	primary  *kvstore.Memory
	fallback *kvstore.Memory
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()

	srv, err := server.New(&config.Config{
		Database: config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "portal.sqlite")},
		Auth:     config.AuthConfig{JWTSecret: "live-secret-0123456789", TokenTTL: time.Hour},
		HTTP:     config.HTTPConfig{Port: "0"},
	}, zerolog.Nop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &liveEnv{
		srv:      srv,
		url:      ts.URL,
		clock:    clock.NewFake(time.Now()),
		primary:  kvstore.NewMemory(),
		fallback: kvstore.NewMemory(),
	}
}

// manager builds a fresh manager over the shared stores, as a new process would
func (e *liveEnv) manager(t *testing.T) *Manager {
	t.Helper()

	api := apiclient.New(e.url, apiclient.Options{Timeout: 5 * time.Second, MaxRetries: -1, Logger: zerolog.Nop()})
	store := credstore.New(e.primary, e.fallback, e.clock, zerolog.Nop(), credstore.Options{})

	m, err := New(api, store, e.clock, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestLiveServer_RegisterRestoreAndRevoke(t *testing.T) {
	env := newLiveEnv(t)
	ctx := context.Background()

	first := env.manager(t)
	first.Start()

	user, err := first.Register(ctx, apiclient.Registration{
		Email: "Layla@Example.com", Password: "password123", FirstName: "Layla", LastName: "Saeed",
	})
	require.NoError(t, err)
	assert.Equal(t, "layla@example.com", user.Email)
	assert.True(t, first.IsClient())
	assert.Equal(t, "Layla Saeed", first.DisplayName())
	first.Close()

	// a new process picks the session up and verification confirms it
	second := env.manager(t)
	second.Start()
	require.True(t, second.IsAuthenticated())
	env.clock.Advance(DefaultVerifyDelay)
	assert.True(t, second.IsAuthenticated())
	assert.True(t, second.RefreshSession(ctx))
	second.Close()

	// once the account is disabled the server rejects the stored token
	require.NoError(t, env.srv.GetDB().Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("is_active", false).Error)

	third := env.manager(t)
	third.Start()
	require.True(t, third.IsAuthenticated(), "restore is optimistic")

	env.clock.Advance(DefaultVerifyDelay)

	state := third.Snapshot()
	assert.False(t, state.IsAuthenticated())
	assert.Equal(t, ReasonAuthFailure, state.LastLogout)
	assert.Zero(t, env.primary.Len())
	assert.Zero(t, env.fallback.Len())
}

func TestLiveServer_LoginFailureAndIdle(t *testing.T) {
	env := newLiveEnv(t)
	ctx := context.Background()

	m := env.manager(t)
	m.Start()

	_, err := m.Register(ctx, apiclient.Registration{Email: "omar@example.com", Password: "password123"})
	require.NoError(t, err)
	m.Logout()
	require.False(t, m.IsAuthenticated())

	_, err = m.Login(ctx, apiclient.Credentials{Email: "omar@example.com", Password: "wrong-password"})
	require.Error(t, err)
	assert.True(t, apiclient.IsAuthError(err))
	assert.Equal(t, "Invalid email or password", m.Snapshot().Error)
	assert.False(t, m.IsAuthenticated())

	_, err = m.Login(ctx, apiclient.Credentials{Email: "omar@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot().Error)

	env.clock.Advance(20 * time.Minute)
	assert.True(t, m.RecordActivity(activity.KeyDown))
	env.clock.Advance(20 * time.Minute)
	assert.True(t, m.IsAuthenticated(), "activity pushed the idle deadline out")

	env.clock.Advance(activity.DefaultIdleTimeout)
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, ReasonIdleTimeout, m.Snapshot().LastLogout)
}
