// Package session owns the portal's client-side authentication state: it
// restores persisted sessions, signs users in and out, and tears sessions
// down on idle timeout or server rejection.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gulfconsultants/portal/internal/account"
	"github.com/gulfconsultants/portal/internal/activity"
	"github.com/gulfconsultants/portal/internal/apiclient"
	"github.com/gulfconsultants/portal/internal/clock"
	"github.com/gulfconsultants/portal/internal/credstore"
	"github.com/gulfconsultants/portal/internal/heartbeat"
	"github.com/gulfconsultants/portal/internal/verifier"
)

const DefaultVerifyDelay = 2 * time.Second

const (
	msgCredentialsRequired = "Email and password are required."
	msgMalformedResponse   = "Invalid response from server. Please try again."
	msgPersistFailed       = "Could not save your session. Please try again."
)

// API is the subset of the request layer the manager drives
type API interface {
	Login(ctx context.Context, creds apiclient.Credentials) (*apiclient.AuthResponse, error)
	Register(ctx context.Context, reg apiclient.Registration) (*apiclient.AuthResponse, error)
	CurrentUser(ctx context.Context) (*account.User, error)
	SetAuthToken(token string)
	ClearAuthToken()
}

// CredentialStore persists sessions across restarts
type CredentialStore interface {
	Save(token string, user *account.User, ttl time.Duration) bool
	Load() *credstore.Record
	TouchActivity()
	Clear()
}

// Options configures a Manager
type Options struct {
	SessionTTL time.Duration
	// GracePeriod is how long past its expiry a live session is kept
	GracePeriod time.Duration
	VerifyDelay time.Duration
	Activity    activity.Options
	Heartbeat   heartbeat.Options
	Logger      zerolog.Logger
	// OnChange receives a copy of the state after every transition. It is
	// called without internal locks held and may call back into the manager.
	OnChange func(State)
}

// Manager is the session manager. All session state is owned here; the
// activity tracker and heartbeat only call back into it.
type Manager struct {
	api         API
	store       CredentialStore
	clock       clock.Clock
	verifier    *verifier.Verifier
	tracker     *activity.Tracker
	heartbeat   *heartbeat.Scheduler
	ttl         time.Duration
	grace       time.Duration
	verifyDelay time.Duration
	logger      zerolog.Logger
	onChange    func(State)
	startOnce   sync.Once

	mu          sync.Mutex
	user        *account.User
	expiresAt   time.Time
	loading     bool
	errMsg      string
	initialized bool
	phase       Phase
	lastLogout  LogoutReason
	closed      bool

	// epoch changes whenever a session is established or torn down; timer
	// callbacks capture it and do nothing once it has moved on
	epoch        uint64
	verifyTimer  clock.Timer
	verifyCancel context.CancelFunc
	expiryTimer  clock.Timer
}

// New creates a manager in the uninitialized phase. Call Start to restore
// a persisted session.
func New(api API, store CredentialStore, clk clock.Clock, opts Options) (*Manager, error) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = credstore.DefaultTTL
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = credstore.DefaultGracePeriod
	}
	if opts.VerifyDelay <= 0 {
		opts.VerifyDelay = DefaultVerifyDelay
	}
	opts.Activity.Logger = opts.Logger
	opts.Heartbeat.Logger = opts.Logger

	m := &Manager{
		api:         api,
		store:       store,
		clock:       clk,
		verifier:    verifier.New(api, opts.Logger),
		tracker:     activity.New(clk, opts.Activity),
		ttl:         opts.SessionTTL,
		grace:       opts.GracePeriod,
		verifyDelay: opts.VerifyDelay,
		logger:      opts.Logger.With().Str("component", "session").Logger(),
		onChange:    opts.OnChange,
		phase:       PhaseUninitialized,
	}

	hb, err := heartbeat.New(clk, m.beat, opts.Heartbeat)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat: %w", err)
	}
	m.heartbeat = hb

	return m, nil
}

// Start restores a persisted session, once. A valid stored record makes the
// session authenticated immediately and schedules a background
// verification; the verification only ever ends the session on an explicit
// 401/403. Initialized is set whether or not a session was restored.
func (m *Manager) Start() {
	m.startOnce.Do(m.restore)
}

func (m *Manager) restore() {
	m.mu.Lock()
	defer func() {
		m.initialized = true
		if m.phase == PhaseRestoring || m.phase == PhaseUninitialized {
			m.phase = PhaseAnonymous
		}
		state := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(state)
	}()

	if m.closed {
		return
	}
	m.phase = PhaseRestoring

	record := m.store.Load()
	if record == nil {
		m.logger.Debug().Msg("No stored session")
		return
	}

	m.establishLocked(record.Token, record.User, record.ExpiresAt)
	m.scheduleVerifyLocked()

	m.logger.Info().
		Str("user_id", record.User.ID).
		Bool("from_fallback", record.FromFallback).
		Msg("Session restored")
}

// Login authenticates with the server and establishes a session. Failures
// set the error field and are returned to the caller.
func (m *Manager) Login(ctx context.Context, creds apiclient.Credentials) (*account.User, error) {
	if err := m.checkCredentials(creds.Email, creds.Password); err != nil {
		return nil, err
	}

	m.begin()
	defer m.finish()

	resp, err := m.api.Login(ctx, creds)
	return m.complete("login", resp, err)
}

// Register creates an account and establishes its session, with the same
// contract as Login.
func (m *Manager) Register(ctx context.Context, reg apiclient.Registration) (*account.User, error) {
	if err := m.checkCredentials(reg.Email, reg.Password); err != nil {
		return nil, err
	}

	m.begin()
	defer m.finish()

	resp, err := m.api.Register(ctx, reg)
	return m.complete("register", resp, err)
}

// Logout ends the session. It is synchronous, idempotent and never fails;
// no activity, heartbeat or verification callback runs after it returns.
func (m *Manager) Logout() {
	m.mu.Lock()
	state := m.teardownLocked(ReasonUserInitiated)
	m.mu.Unlock()

	m.notify(state)
}

// RefreshSession re-validates the session with the server. It returns false
// without a request when nobody is signed in. Any verification failure ends
// the session.
func (m *Manager) RefreshSession(ctx context.Context) bool {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return false
	}
	epoch := m.epoch
	m.mu.Unlock()

	if _, err := m.verifier.VerifyCurrentUser(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Session refresh failed")
		m.logoutIfCurrent(epoch, ReasonRefreshFailed)
		return false
	}

	return m.touch(epoch)
}

// ClearError resets the error field
func (m *Manager) ClearError() {
	m.mu.Lock()
	if m.errMsg == "" {
		m.mu.Unlock()
		return
	}
	m.errMsg = ""
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

// RecordActivity forwards a user-interaction signal to the activity
// tracker. It reports whether the signal counted as a new activity tick.
func (m *Manager) RecordActivity(sig activity.Signal) bool {
	return m.tracker.Notify(sig)
}

// Close stops every timer without touching persisted state, leaving the
// stored session available to the next process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.stopTimersLocked()
	m.epoch++
}

// Snapshot returns a copy of the current state
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) IsAuthenticated() bool { return m.Snapshot().IsAuthenticated() }
func (m *Manager) IsAdmin() bool         { return m.Snapshot().IsAdmin() }
func (m *Manager) IsSuperAdmin() bool    { return m.Snapshot().IsSuperAdmin() }
func (m *Manager) IsClient() bool        { return m.Snapshot().IsClient() }

// User returns a copy of the signed-in user, or nil
func (m *Manager) User() *account.User {
	return m.Snapshot().User
}

// DisplayName returns a name suitable for greeting the user
func (m *Manager) DisplayName() string {
	return m.User().DisplayName()
}

// HasPermission reports whether the user holds any of roles
func (m *Manager) HasPermission(roles ...account.Role) bool {
	return m.User().HasRole(roles...)
}

// RequireAuth returns ErrNotAuthenticated when nobody is signed in
func (m *Manager) RequireAuth() error {
	if !m.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

// RequireRole returns ErrNotAuthenticated or ErrForbidden unless the user
// holds one of roles
func (m *Manager) RequireRole(roles ...account.Role) error {
	user := m.User()
	if user == nil {
		return ErrNotAuthenticated
	}
	if !user.HasRole(roles...) {
		return fmt.Errorf("%w: role %q", ErrForbidden, user.Role)
	}
	return nil
}

// SessionExpiry returns when the current session's token expires
func (m *Manager) SessionExpiry() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil || m.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return m.expiresAt, true
}

// TimeUntilExpiry returns the remaining token lifetime, zero when expired
// or signed out
func (m *Manager) TimeUntilExpiry() time.Duration {
	expiry, ok := m.SessionExpiry()
	if !ok {
		return 0
	}
	if remaining := expiry.Sub(m.clock.Now()); remaining > 0 {
		return remaining
	}
	return 0
}

// SessionExpiring reports whether the session expires within d. It is
// false when signed out or when the expiry is unknown.
func (m *Manager) SessionExpiring(d time.Duration) bool {
	if _, ok := m.SessionExpiry(); !ok {
		return false
	}
	return m.TimeUntilExpiry() <= d
}

func (m *Manager) checkCredentials(email, password string) error {
	if strings.TrimSpace(email) != "" && password != "" {
		return nil
	}

	m.mu.Lock()
	m.errMsg = msgCredentialsRequired
	state := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(state)

	return &apiclient.APIError{
		Status:  http.StatusBadRequest,
		Kind:    apiclient.KindValidation,
		Message: msgCredentialsRequired,
	}
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.loading = true
	m.errMsg = ""
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.loading = false
	state := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(state)
}

// complete turns an auth response into a session. Persistence is mandatory:
// a session that cannot be saved is not established.
func (m *Manager) complete(op string, resp *apiclient.AuthResponse, err error) (*account.User, error) {
	if err == nil {
		err = resp.Validate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.errMsg = userMessage(err)
		m.logger.Warn().Err(err).Str("op", op).Msg("Authentication failed")
		return nil, err
	}

	if !m.store.Save(resp.AccessToken, resp.User, m.ttl) {
		// the save already overwrote or purged whatever session was stored,
		// so the live one goes with it
		m.teardownLocked(ReasonPersistFailed)
		m.errMsg = msgPersistFailed
		m.logger.Error().Str("op", op).Msg("Failed to persist session")
		return nil, ErrPersistFailed
	}

	m.establishLocked(resp.AccessToken, resp.User, m.clock.Now().Add(m.ttl))

	m.logger.Info().
		Str("op", op).
		Str("user_id", m.user.ID).
		Str("role", string(m.user.Role)).
		Msg("Session established")

	return m.user.Clone(), nil
}

// establishLocked makes token and user the live session and (re)starts the
// activity tracker and heartbeat for it
func (m *Manager) establishLocked(token string, user *account.User, expiresAt time.Time) {
	m.stopTimersLocked()
	m.epoch++
	epoch := m.epoch

	m.api.SetAuthToken(token)
	m.user = user.Clone()
	m.expiresAt = expiresAt
	m.phase = PhaseAuthenticated

	m.tracker.Start(activity.Hooks{
		OnTick: func() { m.touch(epoch) },
		OnIdle: func() { m.logoutIfCurrent(epoch, ReasonIdleTimeout) },
	})
	m.heartbeat.Start(func() { m.touch(epoch) })

	if !expiresAt.IsZero() {
		m.expiryTimer = m.clock.AfterFunc(max(expiresAt.Add(m.grace).Sub(m.clock.Now()), 0), func() {
			m.logger.Info().Time("expired_at", expiresAt).Msg("Session lifetime exceeded")
			m.logoutIfCurrent(epoch, ReasonSessionExpired)
		})
	}
}

func (m *Manager) scheduleVerifyLocked() {
	epoch := m.epoch
	m.verifyTimer = m.clock.AfterFunc(m.verifyDelay, func() { m.verify(epoch) })
}

func (m *Manager) verify(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.user == nil {
		m.mu.Unlock()
		return
	}
	m.verifyTimer = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.verifyCancel = cancel
	m.mu.Unlock()

	_, err := m.verifier.VerifyCurrentUser(ctx)
	cancel()

	switch verifier.Classify(err) {
	case verifier.Rejected:
		m.logger.Info().Err(err).Msg("Stored session rejected by server")
		m.logoutIfCurrent(epoch, ReasonAuthFailure)
	case verifier.Unreachable:
		m.logger.Warn().Err(err).Msg("Could not verify restored session, keeping it")
	default:
		m.logger.Debug().Msg("Restored session verified")
	}
}

func (m *Manager) beat(ctx context.Context) error {
	_, err := m.api.CurrentUser(ctx)
	return err
}

// touch records activity for the session identified by epoch. It reports
// whether that session is still live.
func (m *Manager) touch(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.user == nil {
		return false
	}
	m.store.TouchActivity()
	return true
}

func (m *Manager) logoutIfCurrent(epoch uint64, reason LogoutReason) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	state := m.teardownLocked(reason)
	m.mu.Unlock()

	m.notify(state)
}

// teardownLocked clears every trace of the session. Timers are cancelled
// and the epoch moved before any state is cleared.
func (m *Manager) teardownLocked(reason LogoutReason) (state State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("reason", string(reason)).Msg("Recovered during logout")
			state = m.snapshotLocked()
		}
	}()

	hadSession := m.user != nil
	if m.initialized {
		m.phase = PhaseTerminating
	}

	m.stopTimersLocked()
	m.epoch++

	m.store.Clear()
	m.api.ClearAuthToken()
	m.user = nil
	m.expiresAt = time.Time{}
	m.errMsg = ""
	if m.initialized {
		m.phase = PhaseAnonymous
	}

	if hadSession {
		m.lastLogout = reason
		m.logger.Info().Str("reason", string(reason)).Msg("Session ended")
	}

	return m.snapshotLocked()
}

func (m *Manager) stopTimersLocked() {
	m.tracker.Stop()
	m.heartbeat.Stop()
	if m.verifyTimer != nil {
		m.verifyTimer.Stop()
		m.verifyTimer = nil
	}
	if m.verifyCancel != nil {
		m.verifyCancel()
		m.verifyCancel = nil
	}
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
}

func (m *Manager) snapshotLocked() State {
	return State{
		User:        m.user.Clone(),
		Loading:     m.loading,
		Error:       m.errMsg,
		Initialized: m.initialized,
		Phase:       m.phase,
		LastLogout:  m.lastLogout,
	}
}

func (m *Manager) notify(state State) {
	if m.onChange != nil {
		m.onChange(state)
	}
}

func userMessage(err error) string {
	if errors.Is(err, apiclient.ErrMalformedResponse) {
		return msgMalformedResponse
	}
	return apiclient.Message(err)
}
