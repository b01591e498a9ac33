// Package credstore persists the portal session (bearer token, user record,
// expiry and last-activity timestamps) across process restarts.
//
// Every record is written to two independent backends. The primary backend
// is authoritative for every field; the fallback only holds the token and
// user and is read all-or-nothing when the primary has no usable pair.
// Storage failures never propagate: they are logged and reported as a
// boolean or as "no stored session".
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gulfconsultants/portal/internal/account"
	"github.com/gulfconsultants/portal/internal/clock"
	"github.com/gulfconsultants/portal/internal/kvstore"
)

const (
	DefaultTTL             = 7 * 24 * time.Hour
	DefaultGracePeriod     = time.Hour
	DefaultInactivityLimit = 48 * time.Hour
	DefaultPrefix          = "placement_"
)

// Keys is the persisted key layout. The names must stay stable across
// releases so existing sessions survive upgrades.
type Keys struct {
	Token        string
	User         string
	Expiry       string
	LastActivity string
}

// KeysFor returns the key layout under prefix
func KeysFor(prefix string) Keys {
	return Keys{
		Token:        prefix + "auth_token",
		User:         prefix + "user",
		Expiry:       prefix + "session_expiry",
		LastActivity: prefix + "last_activity",
	}
}

func (k Keys) all() []string {
	return []string{k.Token, k.User, k.Expiry, k.LastActivity}
}

// Record is a validated stored session
type Record struct {
	Token        string
	User         *account.User
	ExpiresAt    time.Time // zero when the primary holds no expiry
	LastActivity time.Time
	FromFallback bool
}

// Options tunes the staleness windows
type Options struct {
	Prefix          string
	GracePeriod     time.Duration
	InactivityLimit time.Duration
}

// Store is the credential store
type Store struct {
	primary    kvstore.Store
	fallback   kvstore.Store
	clock      clock.Clock
	logger     zerolog.Logger
	keys       Keys
	grace      time.Duration
	inactivity time.Duration
}

// New creates a credential store. fallback may be nil.
func New(primary, fallback kvstore.Store, clk clock.Clock, logger zerolog.Logger, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.InactivityLimit <= 0 {
		opts.InactivityLimit = DefaultInactivityLimit
	}

	return &Store{
		primary:    primary,
		fallback:   fallback,
		clock:      clk,
		logger:     logger.With().Str("component", "credstore").Logger(),
		keys:       KeysFor(opts.Prefix),
		grace:      opts.GracePeriod,
		inactivity: opts.InactivityLimit,
	}
}

// Keys returns the key layout in use
func (s *Store) Keys() Keys {
	return s.keys
}

// Save persists a session valid for ttl (DefaultTTL when ttl <= 0). It
// reports whether at least one backend now holds a complete token and user.
func (s *Store) Save(token string, user *account.User, ttl time.Duration) bool {
	if token == "" || !user.Valid() {
		s.logger.Warn().Msg("Refusing to save session without token or user")
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize user")
		return false
	}

	now := s.clock.Now()
	primaryOK := s.write(s.primary, "primary",
		s.keys.Token, token,
		s.keys.User, string(userJSON),
		s.keys.Expiry, formatMillis(now.Add(ttl)),
		s.keys.LastActivity, formatMillis(now),
	)

	fallbackOK := false
	if s.fallback != nil {
		fallbackOK = s.write(s.fallback, "fallback",
			s.keys.Token, token,
			s.keys.User, string(userJSON),
		)
	}

	if !primaryOK && !fallbackOK {
		s.logger.Error().Msg("Session could not be persisted to any backend")
		return false
	}
	return true
}

// Load returns the stored session, or nil when there is none, it is
// unreadable, or it is stale. Stale records (expired beyond the grace
// period, or idle beyond the inactivity limit) are purged. Unparseable
// records are left in place since they may be mid-write. A successful
// load refreshes the last-activity timestamp.
func (s *Store) Load() *Record {
	token, userJSON, ok := s.readPair(s.primary, "primary")
	fromFallback := false
	if !ok && s.fallback != nil {
		token, userJSON, ok = s.readPair(s.fallback, "fallback")
		fromFallback = ok
	}
	if !ok {
		return nil
	}

	var user account.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil || !user.Valid() {
		s.logger.Warn().Err(err).Msg("Stored user record is unreadable")
		return nil
	}

	now := s.clock.Now()

	expiry, hasExpiry, err := s.readMillis(s.keys.Expiry)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stored session expiry is unreadable")
		return nil
	}
	if hasExpiry && now.After(expiry.Add(s.grace)) {
		s.logger.Info().Time("expired_at", expiry).Msg("Stored session expired")
		s.Clear()
		return nil
	}

	lastActivity, hasActivity, err := s.readMillis(s.keys.LastActivity)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stored last activity is unreadable")
		return nil
	}
	if hasActivity && now.Sub(lastActivity) > s.inactivity {
		s.logger.Info().Time("last_activity", lastActivity).Msg("Stored session inactive too long")
		s.Clear()
		return nil
	}

	s.TouchActivity()

	record := &Record{
		Token:        token,
		User:         &user,
		FromFallback: fromFallback,
		LastActivity: now,
	}
	if hasExpiry {
		record.ExpiresAt = expiry
	}
	if hasActivity && lastActivity.After(now) {
		record.LastActivity = lastActivity
	}
	return record
}

// TouchActivity records now as the last activity. The stored value never
// moves backwards.
func (s *Store) TouchActivity() {
	now := s.clock.Now()

	previous, ok, err := s.readMillis(s.keys.LastActivity)
	if err == nil && ok && previous.After(now) {
		return
	}

	if err := s.primary.Set(s.keys.LastActivity, formatMillis(now)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record activity")
	}
}

// Clear deletes every session key from both backends
func (s *Store) Clear() {
	s.purge(s.primary, "primary")
	if s.fallback != nil {
		s.purge(s.fallback, "fallback")
	}
}

func (s *Store) purge(store kvstore.Store, name string) {
	for _, key := range s.keys.all() {
		if err := store.Remove(key); err != nil {
			s.logger.Warn().Err(err).Str("backend", name).Str("key", key).Msg("Failed to remove session key")
		}
	}
}

// write sets key/value pairs in order. On the first failure it purges the
// backend, so a new token is never left beside an older user or expiry.
func (s *Store) write(store kvstore.Store, name string, kv ...string) bool {
	for i := 0; i+1 < len(kv); i += 2 {
		if err := store.Set(kv[i], kv[i+1]); err != nil {
			s.logger.Warn().Err(err).Str("backend", name).Str("key", kv[i]).Msg("Failed to persist session key")
			s.purge(store, name)
			return false
		}
	}
	return true
}

func (s *Store) readPair(store kvstore.Store, name string) (token, user string, ok bool) {
	token, err := s.get(store, name, s.keys.Token)
	if err != nil || token == "" {
		return "", "", false
	}
	user, err = s.get(store, name, s.keys.User)
	if err != nil || user == "" {
		return "", "", false
	}
	return token, user, true
}

func (s *Store) get(store kvstore.Store, name, key string) (string, error) {
	value, err := store.Get(key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Warn().Err(err).Str("backend", name).Str("key", key).Msg("Failed to read session key")
	}
	return value, err
}

// readMillis reads an epoch-ms timestamp from the primary backend.
// A missing key is reported as ok=false with no error.
func (s *Store) readMillis(key string) (time.Time, bool, error) {
	raw, err := s.primary.Get(key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if raw == "" {
		return time.Time{}, false, nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid timestamp %q for %s: %w", raw, key, err)
	}
	return time.UnixMilli(ms), true, nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
