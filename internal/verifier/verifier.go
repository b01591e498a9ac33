// Package verifier confirms with the server that a bearer token is still
// accepted, separating definitive rejections from transient failures.
package verifier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gulfconsultants/portal/internal/account"
	"github.com/gulfconsultants/portal/internal/apiclient"
)

// WhoAmI is the server call used for verification
type WhoAmI interface {
	CurrentUser(ctx context.Context) (*account.User, error)
}

// Outcome classifies a verification attempt
type Outcome int

const (
	// Valid means the server accepted the token
	Valid Outcome = iota
	// Rejected means the server answered 401/403; the session is dead
	Rejected
	// Unreachable covers timeouts, network failures and server errors;
	// the session is kept
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Rejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

// Verifier is the remote session verifier
type Verifier struct {
	api    WhoAmI
	logger zerolog.Logger
}

// New creates a verifier over the who-am-i call
func New(api WhoAmI, logger zerolog.Logger) *Verifier {
	return &Verifier{
		api:    api,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// VerifyCurrentUser issues the authenticated who-am-i request
func (v *Verifier) VerifyCurrentUser(ctx context.Context) (*account.User, error) {
	user, err := v.api.CurrentUser(ctx)
	if err != nil {
		v.logger.Debug().Err(err).Str("outcome", Classify(err).String()).Msg("Session verification failed")
		return nil, err
	}
	return user, nil
}

// IsAuthFailure reports whether err is an explicit 401/403 rejection
func IsAuthFailure(err error) bool {
	return apiclient.IsAuthError(err)
}

// Classify maps a verification error to an Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Valid
	case IsAuthFailure(err):
		return Rejected
	default:
		return Unreachable
	}
}
