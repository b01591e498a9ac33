// Package activity turns raw user-interaction signals into throttled
// activity ticks and ends sessions that sit idle too long.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gulfconsultants/portal/internal/clock"
)

const (
	DefaultThrottle    = time.Minute
	DefaultIdleTimeout = 30 * time.Minute
)

// Signal is a kind of user interaction forwarded by the host
type Signal string

const (
	PointerDown Signal = "pointerdown"
	PointerMove Signal = "pointermove"
	KeyDown     Signal = "keydown"
	Scroll      Signal = "scroll"
	TouchStart  Signal = "touchstart"
	Click       Signal = "click"
)

// Signals is the fixed set of tracked interactions
var Signals = []Signal{PointerDown, PointerMove, KeyDown, Scroll, TouchStart, Click}

// Tracked reports whether s counts as activity
func (s Signal) Tracked() bool {
	for _, known := range Signals {
		if s == known {
			return true
		}
	}
	return false
}

// Hooks are invoked without the tracker's lock held
type Hooks struct {
	// OnTick runs at most once per throttle window
	OnTick func()
	// OnIdle runs when no tick happened for the idle timeout
	OnIdle func()
}

// Options configures a Tracker
type Options struct {
	Throttle    time.Duration
	IdleTimeout time.Duration
	Logger      zerolog.Logger
}

// Tracker is the activity tracker. The host must forward interaction
// signals before any of its own handling so nested components cannot
// swallow them.
type Tracker struct {
	clock       clock.Clock
	throttle    time.Duration
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	running bool
	hooks   Hooks
	limiter *rate.Limiter
	idle    clock.Timer
	seq     uint64 // bumped on every arm and stop; stale idle callbacks compare against it
}

// New creates a stopped tracker
func New(clk clock.Clock, opts Options) *Tracker {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Tracker{
		clock:       clk,
		throttle:    opts.Throttle,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger.With().Str("component", "activity").Logger(),
	}
}

// Start (re)arms the tracker with a fresh throttle window and idle timer
func (t *Tracker) Start(hooks Hooks) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = true
	t.hooks = hooks
	// Leading edge: burst of one, refilled once per window
	t.limiter = rate.NewLimiter(rate.Every(t.throttle), 1)
	t.armIdleLocked()
}

// Notify records a signal. It reports whether the signal produced a tick;
// signals inside the current throttle window are dropped.
func (t *Tracker) Notify(sig Signal) bool {
	if !sig.Tracked() {
		return false
	}

	t.mu.Lock()
	if !t.running || !t.limiter.AllowN(t.clock.Now(), 1) {
		t.mu.Unlock()
		return false
	}
	t.armIdleLocked()
	onTick := t.hooks.OnTick
	t.mu.Unlock()

	if onTick != nil {
		onTick()
	}
	return true
}

// Stop cancels the throttle window and the idle timer. No hook runs for
// this session after Stop returns.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	t.seq++
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.limiter = nil
	t.hooks = Hooks{}
}

// Running reports whether the tracker is armed
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) armIdleLocked() {
	if t.idle != nil {
		t.idle.Stop()
	}
	t.seq++
	seq := t.seq
	t.idle = t.clock.AfterFunc(t.idleTimeout, func() { t.fireIdle(seq) })
}

func (t *Tracker) fireIdle(seq uint64) {
	t.mu.Lock()
	if !t.running || seq != t.seq {
		t.mu.Unlock()
		return
	}
	onIdle := t.hooks.OnIdle
	t.running = false
	t.idle = nil
	t.limiter = nil
	t.hooks = Hooks{}
	t.mu.Unlock()

	t.logger.Info().Dur("idle_timeout", t.idleTimeout).Msg("Session idle timeout reached")
	if onIdle != nil {
		onIdle()
	}
}
