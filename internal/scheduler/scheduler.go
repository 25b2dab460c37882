// Package scheduler fires engagement cycles on a cron-style cadence
// with per-install minute jitter, overlap rejection, and misfire
// handling.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"feedpilot/internal/agent"
	"feedpilot/internal/logging"
)

// CycleRunner is the work the scheduler fires. *agent.Supervisor
// satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, queries []string) *agent.CycleResult
}

// Config controls the firing cadence.
type Config struct {
	// Hours is the cron hours field, e.g. "*/3" or "9,12,18".
	Hours string
	// Minute pins the firing minute. Nil draws a random minute once so
	// installs do not fire in lockstep.
	Minute *int
	// MisfireGrace is how late a firing may run before it is dropped.
	MisfireGrace time.Duration
	// Queries are passed to every cycle.
	Queries []string
}

// Status is a snapshot of the scheduler for the status surface.
type Status struct {
	Running  bool
	InFlight bool
	JobID    string
	Minute   int
	Spec     string
	NextRun  time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler drives cycles from a single timer loop. At most one cycle
// runs at a time; a firing that lands while one is in flight is
// rejected, not queued.
type Scheduler struct {
	runner CycleRunner
	cfg    Config

	mu       sync.Mutex
	running  bool
	jobID    string
	minute   int
	spec     string
	schedule cron.Schedule
	stop     chan struct{}
	done     chan struct{}
	rearm    chan struct{}

	inFlight atomic.Bool
	cycles   sync.WaitGroup

	// now is swappable in tests.
	now func() time.Time
}

func New(runner CycleRunner, cfg Config) (*Scheduler, error) {
	s := &Scheduler{runner: runner, cfg: cfg, now: time.Now}
	if err := s.applySchedule(cfg.Hours, cfg.Minute); err != nil {
		return nil, err
	}
	return s, nil
}

// applySchedule parses the cadence. Caller holds no particular lock at
// construction; UpdateSchedule takes the mutex before calling.
func (s *Scheduler) applySchedule(hours string, minute *int) error {
	m := minute
	if m == nil {
		jittered := rand.Intn(60)
		m = &jittered
	}
	if *m < 0 || *m > 59 {
		return fmt.Errorf("minute %d out of range", *m)
	}

	spec := fmt.Sprintf("%d %s * * *", *m, hours)
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	s.minute = *m
	s.spec = spec
	s.schedule = schedule
	return nil
}

// ===== LIFECYCLE =====

// Start launches the timer loop. Calling Start on a running scheduler
// is a logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		logging.Scheduler("start ignored: already running")
		return
	}

	s.running = true
	s.jobID = uuid.NewString()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.rearm = make(chan struct{}, 1)

	logging.Scheduler("job %s started with spec %q", s.jobID, s.spec)
	go s.loop(ctx, s.stop, s.done, s.rearm)
}

// Stop halts the timer loop and waits for any in-flight cycle to
// finish. Stopping a stopped scheduler is a logged no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		logging.Scheduler("stop ignored: not running")
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.cycles.Wait()
	logging.Scheduler("stopped")
}

// UpdateSchedule recreates the live job with a new cadence. When
// minute is nil a fresh jittered minute is drawn. Updating a stopped
// scheduler is a logged no-op.
func (s *Scheduler) UpdateSchedule(hours string, minute *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		logging.Scheduler("schedule update ignored: not running")
		return nil
	}
	if err := s.applySchedule(hours, minute); err != nil {
		return err
	}
	s.jobID = uuid.NewString()

	// Nudge the loop so the pending timer is rebuilt from the new
	// schedule instead of firing on the old one.
	select {
	case s.rearm <- struct{}{}:
	default:
	}
	logging.Scheduler("job %s rescheduled with spec %q", s.jobID, s.spec)
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:  s.running,
		InFlight: s.inFlight.Load(),
		JobID:    s.jobID,
		Minute:   s.minute,
		Spec:     s.spec,
	}
	if s.running {
		st.NextRun = s.schedule.Next(s.now())
	}
	return st
}

// ===== FIRING =====

func (s *Scheduler) loop(ctx context.Context, stop, done, rearm chan struct{}) {
	defer close(done)

	for {
		// Re-read the schedule every iteration so UpdateSchedule takes
		// effect without restarting the loop.
		s.mu.Lock()
		schedule := s.schedule
		s.mu.Unlock()

		next := schedule.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-rearm:
			timer.Stop()
			continue
		case <-timer.C:
		}

		// A late wakeup past the grace window is dropped. Several
		// missed firings coalesce into at most one: the next loop
		// iteration schedules from the current time.
		if !withinGrace(next, s.now(), s.cfg.MisfireGrace) {
			logging.Scheduler("dropping misfired run scheduled for %s", next.Format(time.RFC3339))
			continue
		}

		s.fire(ctx)
	}
}

// withinGrace reports whether a firing scheduled for scheduledAt may
// still run at now.
func withinGrace(scheduledAt, now time.Time, grace time.Duration) bool {
	if grace <= 0 {
		return true
	}
	return now.Sub(scheduledAt) <= grace
}

// fire runs one cycle unless one is already in flight.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		logging.Scheduler("firing skipped: previous cycle still running")
		return
	}
	s.cycles.Add(1)
	defer func() {
		s.inFlight.Store(false)
		s.cycles.Done()
	}()

	result := s.runner.RunCycle(ctx, s.cfg.Queries)
	if result.Err != nil {
		logging.Scheduler("cycle %s failed: %v", result.ID, result.Err)
		return
	}
	logging.Scheduler("cycle %s completed in %s", result.ID, result.Duration.Round(time.Millisecond))
}

// RunOnce fires a cycle immediately, outside the cadence. It refuses to
// overlap a scheduled cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (*agent.CycleResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("a cycle is already running")
	}
	s.cycles.Add(1)
	defer func() {
		s.inFlight.Store(false)
		s.cycles.Done()
	}()

	return s.runner.RunCycle(ctx, s.cfg.Queries), nil
}
