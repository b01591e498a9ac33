package session

import (
	"errors"

	"github.com/gulfconsultants/portal/internal/account"
)

var (
	// ErrNotAuthenticated is returned by RequireAuth when no session exists
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrForbidden is returned by RequireRole when the user lacks every listed role
	ErrForbidden = errors.New("insufficient role")
	// ErrPersistFailed means the session could not be written to any backend
	ErrPersistFailed = errors.New("failed to persist session")
)

// Phase is the manager's lifecycle state
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseRestoring     Phase = "restoring"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
	PhaseTerminating   Phase = "terminating"
)

// LogoutReason records why a session ended
type LogoutReason string

const (
	ReasonUserInitiated  LogoutReason = "user_initiated"
	ReasonIdleTimeout    LogoutReason = "idle_timeout"
	ReasonAuthFailure    LogoutReason = "auth_failure"
	ReasonRefreshFailed  LogoutReason = "refresh_failed"
	ReasonSessionExpired LogoutReason = "session_expired"
	ReasonPersistFailed  LogoutReason = "persist_failed"
)

// State is a point-in-time copy of the session. Role flags are derived
// from User on every call.
type State struct {
	User        *account.User
	Loading     bool
	Error       string
	Initialized bool
	Phase       Phase
	// LastLogout is set once a session has ended
	LastLogout LogoutReason
}

func (s State) IsAuthenticated() bool {
	return s.User != nil
}

func (s State) IsAdmin() bool {
	return s.User.IsAdmin()
}

func (s State) IsSuperAdmin() bool {
	return s.User.IsSuperAdmin()
}

func (s State) IsClient() bool {
	return s.User.IsClient()
}
