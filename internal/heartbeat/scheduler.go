// Package heartbeat periodically proves a live session is still accepted
// by the server, independent of direct user interaction.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gulfconsultants/portal/internal/clock"
)

const (
	DefaultSchedule = "@every 10m"
	DefaultTimeout  = 30 * time.Second
)

// Beat is the lightweight authenticated call made on every tick
type Beat func(ctx context.Context) error

// Options configures a Scheduler
type Options struct {
	// Schedule is a cron spec (standard 5-field or descriptors such as "@every 10m")
	Schedule string
	// Timeout bounds a single beat
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Scheduler is the heartbeat scheduler. Failures are logged only; ending
// the session is left to the verifier and the activity tracker.
type Scheduler struct {
	clock    clock.Clock
	schedule cron.Schedule
	beat     Beat
	timeout  time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	running   bool
	onSuccess func()
	timer     clock.Timer
	seq       uint64
	cancel    context.CancelFunc
	ctx       context.Context
}

// New parses the schedule and returns a stopped scheduler
func New(clk clock.Clock, beat Beat, opts Options) (*Scheduler, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", opts.Schedule, err)
	}

	return &Scheduler{
		clock:    clk,
		schedule: schedule,
		beat:     beat,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With().Str("component", "heartbeat").Logger(),
	}, nil
}

// Start begins ticking. onSuccess runs after every successful beat,
// without the scheduler's lock held. Starting a running scheduler
// restarts its schedule.
func (s *Scheduler) Start(onSuccess func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.running = true
	s.onSuccess = onSuccess
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.scheduleLocked()
}

// Stop cancels the pending tick and any in-flight beat
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether the scheduler is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) stopLocked() {
	s.running = false
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.onSuccess = nil
}

func (s *Scheduler) scheduleLocked() {
	now := s.clock.Now()
	// Next truncates now to the whole second, so a beat may land up to a
	// second before a full interval has passed
	next := s.schedule.Next(now)

	s.seq++
	seq := s.seq
	s.timer = s.clock.AfterFunc(next.Sub(now), func() { s.tick(seq) })
}

func (s *Scheduler) tick(seq uint64) {
	s.mu.Lock()
	if !s.running || seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	err := s.beat(ctx)
	cancel()

	s.mu.Lock()
	if !s.running || seq != s.seq {
		// stopped while the beat was in flight
		s.mu.Unlock()
		return
	}
	onSuccess := s.onSuccess
	s.scheduleLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("Heartbeat failed")
		return
	}

	s.logger.Debug().Msg("Heartbeat succeeded")
	if onSuccess != nil {
		onSuccess()
	}
}
