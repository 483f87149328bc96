// Package scheduler implements the Scheduler/Clock (C6): the persisted
// virtual-time cursor, the is_running control flag, and the step loop
// that dispatches each tick to the Runner Engine for the one user passed
// to Run; other users are not ticked by that loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

// Store is the persistence surface the scheduler needs for its cursor
// and control flags.
type Store interface {
	LoadSimulationState(ctx context.Context, userID int64) (isRunning bool, lastTS *time.Time, err error)
	PersistCursor(ctx context.Context, userID int64, ts time.Time) error
	SetRunning(ctx context.Context, userID int64, running bool) error
	EarliestBarTS(ctx context.Context) (time.Time, bool, error)
	ActiveUserIDs(ctx context.Context) ([]int64, error)
}

// TickFunc is the per-user per-tick callback the scheduler invokes;
// normally internal/engine.Engine.Tick.
type TickFunc func(ctx context.Context, userID int64, asOf time.Time) error

// Config governs the step loop's pacing and persistence.
type Config struct {
	StepSeconds     int
	PaceSeconds     float64
	SleepWhenPaused time.Duration
	EndTS           *time.Time
	PersistEveryN   int // persist cursor every N ticks; default 1
}

// Scheduler drives the step loop for a single simulation user set.
type Scheduler struct {
	cfg   Config
	store Store
	tick  TickFunc
	log   *log.Logger

	pace func() (enabled bool, seconds float64)
	wake <-chan struct{}
}

// New builds a Scheduler.
func New(cfg Config, store Store, tick TickFunc, logger *log.Logger) *Scheduler {
	if cfg.PersistEveryN <= 0 {
		cfg.PersistEveryN = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{cfg: cfg, store: store, tick: tick, log: logger}
}

// SetPaceSource installs a callback the loop consults every iteration
// to read the control surface's pace file. internal/config.PaceWatcher
// satisfies this via PaceWatcher.Current.
func (s *Scheduler) SetPaceSource(fn func() (enabled bool, seconds float64)) {
	s.pace = fn
}

// SetWakeSource installs a channel (typically Notifier.Wake()) that,
// when it fires, cuts short the pause-sleep immediately instead of
// waiting out SleepWhenPaused.
func (s *Scheduler) SetWakeSource(ch <-chan struct{}) {
	s.wake = ch
}

// Run executes the step loop for userID until ctx is cancelled or the
// configured end_ts is reached: read is_running, check end_ts, invoke
// the tick, advance, persist, optionally pace.
func (s *Scheduler) Run(ctx context.Context, userID int64) error {
	cursor, err := s.initialCursor(ctx, userID)
	if err != nil {
		return err
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return s.store.PersistCursor(ctx, userID, cursor)
		default:
		}

		running, _, err := s.store.LoadSimulationState(ctx, userID)
		if err != nil {
			return fmt.Errorf("scheduler: load simulation state: %w", err)
		}
		if !running {
			s.sleep(ctx, s.cfg.SleepWhenPaused)
			continue
		}

		if s.cfg.EndTS != nil && cursor.After(*s.cfg.EndTS) {
			s.log.Printf("scheduler: reached end_ts %s, stopping", s.cfg.EndTS)
			return s.store.PersistCursor(ctx, userID, cursor)
		}

		if err := s.tick(ctx, userID, cursor); err != nil {
			if errors.Is(err, model.ErrFatalStorage) {
				s.log.Printf("scheduler: fatal storage error at %s, stopping: %v", cursor, err)
				if setErr := s.store.SetRunning(ctx, userID, false); setErr != nil {
					return fmt.Errorf("scheduler: persist is_running=false after fatal tick error: %w (tick error: %v)", setErr, err)
				}
				return fmt.Errorf("scheduler: fatal tick error at %s: %w", cursor, err)
			}
			s.log.Printf("scheduler: tick error at %s: %v", cursor, err)
		}

		cursor = cursor.Add(time.Duration(s.cfg.StepSeconds) * time.Second)
		ticks++
		if ticks%s.cfg.PersistEveryN == 0 {
			if err := s.store.PersistCursor(ctx, userID, cursor); err != nil {
				return fmt.Errorf("scheduler: persist cursor: %w", err)
			}
		}

		s.paceSleep(ctx)
	}
}

func (s *Scheduler) initialCursor(ctx context.Context, userID int64) (time.Time, error) {
	_, lastTS, err := s.store.LoadSimulationState(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: load simulation state: %w", err)
	}
	if lastTS != nil {
		return *lastTS, nil
	}
	earliest, ok, err := s.store.EarliestBarTS(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: earliest bar ts: %w", err)
	}
	if !ok {
		return time.Time{}, fmt.Errorf("scheduler: no bars on file, cannot determine an initial cursor")
	}
	return earliest, nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	case <-s.wake:
	}
}

func (s *Scheduler) paceSleep(ctx context.Context) {
	seconds := s.cfg.PaceSeconds
	if s.pace != nil {
		if enabled, paceSeconds := s.pace(); enabled {
			seconds = paceSeconds
		}
	}
	if seconds > 0 {
		s.sleep(ctx, time.Duration(seconds*float64(time.Second)))
	}
}
