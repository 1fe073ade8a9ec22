package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-os/verdantd/pkg/units"
)

// SupervisorMockLogger is a simple no-op Logger for supervisor tests
type SupervisorMockLogger struct{}

func (m *SupervisorMockLogger) Debugf(format string, args ...interface{}) {}
func (m *SupervisorMockLogger) Infof(format string, args ...interface{})  {}
func (m *SupervisorMockLogger) Warnf(format string, args ...interface{})  {}
func (m *SupervisorMockLogger) Errorf(format string, args ...interface{}) {}

func shellInstance(name, script string) units.Instance {
	return units.Instance{
		Name:        name,
		Command:     "/bin/sh",
		Args:        []string{"-c", script},
		Restart:     units.RestartNever,
		StopTimeout: 2 * time.Second,
	}
}

func newTestSupervisor(inst units.Instance) (*Supervisor, chan Event) {
	events := make(chan Event, 64)
	return New(inst, events, &SupervisorMockLogger{}), events
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not reach a terminal state in time")
	}
}

func TestStart_RunsProcess(t *testing.T) {
	s, _ := newTestSupervisor(shellInstance("sleeper", "sleep 30"))

	require.NoError(t, s.Start(context.Background()))

	status := s.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Greater(t, status.Pid, 0)
	assert.NotNil(t, status.StartedAt)

	require.NoError(t, s.Stop(context.Background()))

	status = s.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 0, status.Pid)
}

func TestStart_Twice(t *testing.T) {
	s, _ := newTestSupervisor(shellInstance("sleeper", "sleep 30"))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
}

func TestStop_NeverStarted(t *testing.T) {
	s, _ := newTestSupervisor(shellInstance("idle", "sleep 30"))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestNeverPolicy_CleanExit(t *testing.T) {
	s, _ := newTestSupervisor(shellInstance("oneshot", "exit 0"))

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 0, status.RestartCount)
	require.NotNil(t, status.LastExit)
	assert.True(t, status.LastExit.Success())
}

func TestNeverPolicy_FailedExit(t *testing.T) {
	s, _ := newTestSupervisor(shellInstance("failing", "exit 3"))

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateFailed, status.State)
	require.NotNil(t, status.LastExit)
	assert.Equal(t, 3, status.LastExit.Code)
}

func TestOnFailurePolicy_CleanExitDoesNotRestart(t *testing.T) {
	inst := shellInstance("oneshot", "exit 0")
	inst.Restart = units.RestartOnFailure
	s, _ := newTestSupervisor(inst)

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 0, status.RestartCount)
}

func TestOnFailurePolicy_RestartsUntilBudgetExhausted(t *testing.T) {
	inst := shellInstance("failing", "exit 1")
	inst.Restart = units.RestartOnFailure
	inst.MaxRestarts = 2
	s, events := newTestSupervisor(inst)

	err := s.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 2, status.RestartCount)
	assert.Equal(t, "restart budget exhausted", status.FailureReason)

	assert.GreaterOrEqual(t, countEvents(events, StateRestarting), 2)
}

func TestAlwaysPolicy_RestartsOnCleanExit(t *testing.T) {
	inst := shellInstance("oneshot", "exit 0")
	inst.Restart = units.RestartAlways
	inst.MaxRestarts = 2
	s, events := newTestSupervisor(inst)

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	// Clean exits still respawn under "always"; the budget ends the run
	// in Stopped, not Failed.
	status := s.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 2, status.RestartCount)

	assert.GreaterOrEqual(t, countEvents(events, StateRestarting), 2)
}

func TestRestartDelay_StopDuringWait(t *testing.T) {
	inst := shellInstance("failing", "exit 1")
	inst.Restart = units.RestartAlways
	inst.RestartDelay = time.Minute
	s, _ := newTestSupervisor(inst)

	require.NoError(t, s.Start(context.Background()))

	// Give the process time to exit and the monitor to enter the delay.
	require.Eventually(t, func() bool {
		return s.State() == StateRestarting
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second, "stop should not wait out the restart delay")

	assert.Equal(t, StateStopped, s.State())
}

func TestSpawnFailure_NeverPolicy(t *testing.T) {
	inst := units.Instance{
		Name:    "ghost",
		Command: "/nonexistent/binary",
		Restart: units.RestartNever,
	}
	s, _ := newTestSupervisor(inst)

	err := s.Start(context.Background())
	require.Error(t, err)
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.NotEmpty(t, status.FailureReason)
}

func TestSpawnFailure_RetriesInBackground(t *testing.T) {
	inst := units.Instance{
		Name:        "ghost",
		Command:     "/nonexistent/binary",
		Restart:     units.RestartAlways,
		MaxRestarts: 2,
	}
	s, _ := newTestSupervisor(inst)

	// The initial failure is reported, then the monitor retries until
	// the budget runs out.
	require.Error(t, s.Start(context.Background()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 2, status.RestartCount)
}

func TestTermination_SignalsProcessGroup(t *testing.T) {
	// The child ignores nothing; a graceful stop must not need the kill.
	s, _ := newTestSupervisor(shellInstance("group", "sleep 30 & wait"))

	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, StateStopped, s.State())
}

func countEvents(events chan Event, state State) int {
	count := 0
	for {
		select {
		case event := <-events:
			if event.State == state {
				count++
			}
		default:
			return count
		}
	}
}
