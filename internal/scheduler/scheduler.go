// Package scheduler owns the broadcast interval: it arms a single recurring
// job on robfig/cron, persists interval changes and re-arms on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"nelculobot/internal/storage"
	"nelculobot/pkg/logx"
)

const (
	DefaultMinutes      = 30
	MinMinutes          = 1
	MaxMinutes          = 7 * 24 * 60
	DefaultInitialDelay = 10 * time.Second
)

var (
	ErrInvalidInterval = fmt.Errorf("interval must be between %d and %d minutes", MinMinutes, MaxMinutes)
	ErrNotStarted      = errors.New("scheduler not started")
)

type State int

const (
	Idle State = iota
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return "idle"
	}
}

// StateStore is the persisted interval. storage.StateStore implements it.
type StateStore interface {
	Load(ctx context.Context) storage.State
	Update(ctx context.Context, fn func(*storage.State)) error
}

type Config struct {
	// DefaultMinutes applies when nothing is persisted.
	DefaultMinutes int
	InitialDelay   time.Duration
	Location       *time.Location
}

// Job is one scheduled fire. It receives the scheduler's run context.
type Job func(ctx context.Context)

type Scheduler struct {
	cfg   Config
	store StateStore
	job   Job
	log   logx.Logger
	now   func() time.Time

	mu       sync.Mutex
	c        *cron.Cron
	entry    cron.EntryID
	interval time.Duration
	first    time.Time
	runCtx   context.Context
	cancel   context.CancelFunc

	firing atomic.Int32
}

func New(cfg Config, store StateStore, job Job, log logx.Logger) *Scheduler {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, store: store, job: job, log: log.With(logx.String("comp", "scheduler")), now: time.Now}
}

func ValidMinutes(n int) bool { return n >= MinMinutes && n <= MaxMinutes }

// Start resolves the interval (persisted, then configured, then 30 minutes)
// and arms the job. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	minutes, from := DefaultMinutes, "builtin"
	if ValidMinutes(s.cfg.DefaultMinutes) {
		minutes, from = s.cfg.DefaultMinutes, "config"
	}
	if s.store != nil {
		if n := s.store.Load(ctx).IntervalMinutes; n != 0 {
			if ValidMinutes(n) {
				minutes, from = n, "state"
			} else {
				s.log.Warn("persisted interval out of range; ignoring", logx.Int("minutes", n))
			}
		}
	}

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	s.c.Start()
	s.armLocked(time.Duration(minutes) * time.Minute)
	s.log.Info("scheduler started",
		logx.Int("interval_min", minutes),
		logx.String("source", from),
		logx.Time("next", s.first),
	)
	return nil
}

// SetInterval cancels the armed job, persists the new interval and re-arms
// with the initial delay. A persistence failure is returned but the new
// interval stays in effect.
func (s *Scheduler) SetInterval(ctx context.Context, minutes int) error {
	if !ValidMinutes(minutes) {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrNotStarted
	}

	s.c.Remove(s.entry)
	s.entry = 0

	var perr error
	if s.store != nil {
		if err := s.store.Update(ctx, func(st *storage.State) { st.IntervalMinutes = minutes }); err != nil {
			perr = fmt.Errorf("persist interval: %w", err)
			s.log.Error("interval not persisted; applying in memory", logx.Int("minutes", minutes), logx.Err(err))
		}
	}
	s.armLocked(time.Duration(minutes) * time.Minute)
	s.log.Info("interval changed", logx.Int("interval_min", minutes), logx.Time("next", s.first))
	return perr
}

func (s *Scheduler) armLocked(every time.Duration) {
	s.interval = every
	s.first = s.now().Add(s.cfg.InitialDelay)
	sched := &firstThenEvery{first: s.first, every: every}
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.fire))
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || s.job == nil {
		return
	}
	s.firing.Add(1)
	defer s.firing.Add(-1)
	s.job(ctx)
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Next is the next fire time, or zero when idle.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.entry == 0 {
		return time.Time{}
	}
	if e := s.c.Entry(s.entry); e.Valid() && !e.Next.IsZero() {
		return e.Next
	}
	return s.first
}

func (s *Scheduler) State() State {
	if s.firing.Load() > 0 {
		return Firing
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.entry == 0 {
		return Idle
	}
	return Armed
}

// Stop removes the job and cancels the run context, then waits for a
// running fire to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	if c == nil {
		s.mu.Unlock()
		return nil
	}
	c.Remove(s.entry)
	s.entry = 0
	s.c = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstThenEvery fires at first, then every interval after it.
type firstThenEvery struct {
	first time.Time
	every time.Duration
}

func (s *firstThenEvery) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	if s.every <= 0 {
		return time.Time{}
	}
	n := t.Sub(s.first)/s.every + 1
	return s.first.Add(n * s.every)
}

// cronLogger routes robfig/cron's logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
