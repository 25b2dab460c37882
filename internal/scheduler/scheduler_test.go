package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpilot/internal/agent"
)

// countingRunner counts cycles and can block until released.
type countingRunner struct {
	mu      sync.Mutex
	runs    int
	block   chan struct{}
	started chan struct{}
}

func (r *countingRunner) RunCycle(context.Context, []string) *agent.CycleResult {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return &agent.CycleResult{ID: "test", StartedAt: time.Now()}
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func intPtr(v int) *int { return &v }

func TestNewParsesSchedule(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(15)})
	require.NoError(t, err)
	assert.Equal(t, "15 */3 * * *", s.spec)
	assert.Equal(t, 15, s.minute)
}

func TestNewJittersMinuteWhenUnset(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.minute, 0)
	assert.LessOrEqual(t, s.minute, 59)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(&countingRunner{}, Config{Hours: "not-hours"})
	assert.Error(t, err)

	_, err = New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(75)})
	assert.Error(t, err)
}

func TestScheduleNextRespectsHoursField(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	at := time.Date(2026, 8, 29, 2, 30, 0, 0, time.UTC)
	next := s.schedule.Next(at)
	assert.Equal(t, time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC), next)
}

func TestWithinGrace(t *testing.T) {
	scheduled := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	grace := 5 * time.Minute

	assert.True(t, withinGrace(scheduled, scheduled.Add(time.Minute), grace))
	assert.True(t, withinGrace(scheduled, scheduled.Add(5*time.Minute), grace))
	assert.False(t, withinGrace(scheduled, scheduled.Add(6*time.Minute), grace),
		"a firing later than the grace window is dropped")
	assert.True(t, withinGrace(scheduled, scheduled.Add(time.Hour), 0),
		"zero grace disables the check")
}

func TestRunOnceFiresImmediately(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, Config{Hours: "*/3", Queries: []string{"golang"}})
	require.NoError(t, err)

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", result.ID)
	assert.Equal(t, 1, runner.count())
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := New(runner, Config{Hours: "*/3"})
	require.NoError(t, err)

	go s.RunOnce(context.Background())
	<-runner.started

	_, err = s.RunOnce(context.Background())
	assert.Error(t, err, "a second trigger while one runs is rejected, not queued")

	close(runner.block)
	require.Eventually(t, func() bool { return !s.inFlight.Load() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, runner.count())
}

func TestFireSkipsWhenInFlight(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, Config{Hours: "*/3"})
	require.NoError(t, err)

	s.inFlight.Store(true)
	s.fire(context.Background())
	assert.Equal(t, 0, runner.count())

	s.inFlight.Store(false)
	s.fire(context.Background())
	assert.Equal(t, 1, runner.count())
}

func TestStartStopLifecycle(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	assert.False(t, s.Status().Running)

	s.Start(context.Background())
	st := s.Status()
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.JobID)
	assert.False(t, st.NextRun.IsZero())

	// Idempotent: a second Start must not spawn a second loop.
	s.Start(context.Background())

	s.Stop()
	assert.False(t, s.Status().Running)

	// Idempotent the other way too.
	s.Stop()
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := New(runner, Config{Hours: "*/3"})
	require.NoError(t, err)
	s.Start(context.Background())

	// Drive a firing by hand so the test does not wait for the cadence.
	go s.fire(context.Background())
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
	assert.Equal(t, 1, runner.count())
}

func TestUpdateScheduleRecreatesRunningJob(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()
	before := s.Status()

	require.NoError(t, s.UpdateSchedule("*/6", intPtr(30)))
	after := s.Status()
	assert.Equal(t, "30 */6 * * *", after.Spec)
	assert.NotEqual(t, before.JobID, after.JobID, "update replaces the job")
	assert.True(t, after.Running)
	assert.Equal(t, 30, after.NextRun.Minute(), "next run comes from the new spec")
}

func TestUpdateScheduleRedrawsJitterWhenMinuteUnset(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.UpdateSchedule("*/6", nil))
	st := s.Status()
	assert.GreaterOrEqual(t, st.Minute, 0)
	assert.LessOrEqual(t, st.Minute, 59)
}

func TestUpdateScheduleIgnoredWhenStopped(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	require.NoError(t, s.UpdateSchedule("*/6", intPtr(30)))
	assert.Equal(t, "0 */3 * * *", s.spec, "idle update is a no-op")
}

func TestUpdateScheduleRejectsBadInput(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Hours: "*/3", Minute: intPtr(0)})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	assert.Error(t, s.UpdateSchedule("not-hours", intPtr(30)))
	assert.Equal(t, "0 */3 * * *", s.spec, "failed update leaves the schedule intact")
}
