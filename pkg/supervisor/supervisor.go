package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
	"github.com/verdant-os/verdantd/pkg/process"
	"github.com/verdant-os/verdantd/pkg/units"
)

const forceKillGrace = 5 * time.Second

// Supervisor owns the spawn/monitor/restart lifecycle of exactly one unit
// instance. It is single-use: once the state becomes terminal the monitor
// goroutine exits, and a fresh Supervisor must be created to run the
// instance again.
//
// All lifecycle work happens on the monitor goroutine; restart-delay waits
// never hold the mutex, so one slow instance cannot stall any other.
type Supervisor struct {
	instance units.Instance
	events   chan<- Event
	logger   logging.Logger

	mu            sync.Mutex
	started       bool
	state         State
	pid           int
	restartCount  int
	startedAt     *time.Time
	lastExit      *process.ExitStatus
	failureReason string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a supervisor for the given instance. Events for every state
// transition are delivered on the provided channel; the owner must keep
// draining it until Done is closed.
func New(instance units.Instance, events chan<- Event, logger logging.Logger) *Supervisor {
	return &Supervisor{
		instance: instance,
		events:   events,
		logger:   logger,
		state:    StateStopped,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Instance returns the immutable instance this supervisor runs
func (s *Supervisor) Instance() units.Instance {
	return s.instance
}

// Start performs the initial spawn synchronously and hands the process to
// the monitor goroutine. A spawn failure is returned to the caller; when
// the restart policy permits retries the monitor goroutine keeps trying in
// the background, so the instance may still come up later.
func (s *Supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.mu.Lock()
	if s.started || s.state != StateStopped {
		current := s.state
		s.mu.Unlock()
		return errors.NewValidationError(
			"instance is not startable in its current state", nil).
			WithContext("name", s.instance.Name).
			WithContext("state", string(current))
	}
	s.started = true
	s.mu.Unlock()

	s.transition(StateStarting, nil, nil)

	handle, err := s.spawn(ctx)
	if err != nil {
		s.noteFailure(err)
		s.transition(StateFailed, nil, err)

		if !s.retryAfterFailure() {
			close(s.done)
			return err
		}

		// Keep trying in the background per restart policy.
		go s.run(nil)
		return err
	}

	s.noteStarted(handle.Pid())
	s.transition(StateRunning, nil, nil)

	go s.run(handle)
	return nil
}

// Stop requests a graceful shutdown and waits for the monitor goroutine to
// finish. The running process receives a termination signal, then a bounded
// grace period, then a kill.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	neverStarted := !s.started
	s.mu.Unlock()
	if neverStarted {
		return nil
	}

	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("stop wait cancelled", ctx.Err()).
			WithContext("name", s.instance.Name)
	}
}

// Done is closed when the monitor goroutine has exited and the state is
// terminal.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Status returns a snapshot of the instance
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Name:          s.instance.Name,
		Description:   s.instance.Description,
		State:         s.state,
		Pid:           s.pid,
		RestartCount:  s.restartCount,
		StartedAt:     s.startedAt,
		LastExit:      s.lastExit,
		FailureReason: s.failureReason,
		Tags:          s.instance.Tags,
		Priority:      s.instance.Priority,
	}
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run is the monitor loop. handle is the already-running process from the
// initial spawn, or nil when the initial spawn failed and we are retrying.
func (s *Supervisor) run(handle *process.Handle) {
	defer close(s.done)

	for {
		if handle == nil {
			// A respawn is due: wait out the restart delay, then try again.
			if !s.waitRestartDelay() {
				s.transition(StateStopped, nil, nil)
				return
			}

			s.bumpRestartCount()
			s.transition(StateStarting, nil, nil)

			next, err := s.spawn(context.Background())
			if err != nil {
				s.noteFailure(err)
				s.transition(StateFailed, nil, err)
				if !s.retryAfterFailure() {
					return
				}
				continue
			}

			handle = next
			s.noteStarted(handle.Pid())
			s.transition(StateRunning, nil, nil)
		}

		exitCh := make(chan process.ExitStatus, 1)
		go func(h *process.Handle) {
			exitCh <- h.Wait()
		}(handle)

		select {
		case <-s.stopCh:
			s.terminate(handle, exitCh)
			s.transition(StateStopped, nil, nil)
			return

		case status := <-exitCh:
			s.noteExit(status)
			handle = nil

			if !s.handleExit(status) {
				return
			}
			// handleExit moved us to Restarting; loop respawns.
		}
	}
}

// handleExit applies the restart policy to a process exit. It returns true
// when a respawn is scheduled (state Restarting) and false when the state
// is terminal.
func (s *Supervisor) handleExit(status process.ExitStatus) bool {
	success := status.Success()

	s.logger.Infof("Process exited, name: %s, code: %d, signaled: %t",
		s.instance.Name, status.Code, status.Signaled)

	switch s.instance.Restart {
	case units.RestartAlways:
		// Even a clean exit respawns under "always".
		if !success {
			s.transition(StateFailed, &status, nil)
		}
		if !s.withinRestartBudget() {
			if success {
				s.transition(StateStopped, &status, nil)
			}
			return false
		}
		s.transition(StateRestarting, &status, nil)
		return true

	case units.RestartOnFailure:
		if success {
			s.transition(StateStopped, &status, nil)
			return false
		}
		s.transition(StateFailed, &status, nil)
		if !s.withinRestartBudget() {
			return false
		}
		s.transition(StateRestarting, &status, nil)
		return true

	default: // RestartNever
		if success {
			s.transition(StateStopped, &status, nil)
		} else {
			s.transition(StateFailed, &status, nil)
		}
		return false
	}
}

// retryAfterFailure decides whether a spawn failure is retried under the
// restart policy, and publishes the Restarting transition when it is.
func (s *Supervisor) retryAfterFailure() bool {
	switch s.instance.Restart {
	case units.RestartAlways, units.RestartOnFailure:
		if !s.withinRestartBudget() {
			return false
		}
		s.transition(StateRestarting, nil, nil)
		return true
	default:
		return false
	}
}

// withinRestartBudget enforces the optional max-restarts bound. The count
// is unbounded when no maximum is configured.
func (s *Supervisor) withinRestartBudget() bool {
	if s.instance.MaxRestarts <= 0 {
		return true
	}

	s.mu.Lock()
	exhausted := s.restartCount >= s.instance.MaxRestarts
	s.mu.Unlock()

	if exhausted {
		s.logger.Warnf("Restart budget exhausted, name: %s, restarts: %d",
			s.instance.Name, s.instance.MaxRestarts)
		s.noteFailureReason("restart budget exhausted")
	}
	return !exhausted
}

// waitRestartDelay sleeps the configured restart delay on a timer. Returns
// false if a stop request arrived during the wait.
func (s *Supervisor) waitRestartDelay() bool {
	delay := s.instance.RestartDelay
	if delay <= 0 {
		select {
		case <-s.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Supervisor) spawn(ctx context.Context) (*process.Handle, error) {
	spec := process.Spec{
		Command:     s.instance.Command,
		Args:        s.instance.Args,
		Environment: s.instance.Environment,
		WorkingDir:  s.instance.WorkingDir,
		StdoutLog:   s.instance.StdoutLog,
		StderrLog:   s.instance.StderrLog,
	}
	return process.Start(ctx, spec, s.instance.Name, s.logger)
}

// terminate walks the stop ladder: termination signal, graceful wait, kill
func (s *Supervisor) terminate(handle *process.Handle, exitCh <-chan process.ExitStatus) {
	pid := handle.Pid()

	s.logger.Infof("Stopping process, name: %s, PID: %d", s.instance.Name, pid)

	if err := process.SendTerminationSignal(pid); err != nil {
		s.logger.Warnf("Failed to send termination signal, name: %s, PID: %d, error: %v",
			s.instance.Name, pid, err)
	}

	gracefulTimeout := s.instance.StopTimeout
	if gracefulTimeout <= 0 {
		gracefulTimeout = units.DefaultStopTimeout
	}

	select {
	case status := <-exitCh:
		s.noteExit(status)
		s.logger.Infof("Process terminated gracefully, name: %s, PID: %d", s.instance.Name, pid)
		return
	case <-time.After(gracefulTimeout):
		s.logger.Warnf("Process did not stop within %v, killing, name: %s, PID: %d",
			gracefulTimeout, s.instance.Name, pid)
	}

	if err := handle.Kill(); err != nil {
		s.logger.Errorf("Failed to kill process, name: %s, PID: %d, error: %v",
			s.instance.Name, pid, err)
	}

	select {
	case status := <-exitCh:
		s.noteExit(status)
	case <-time.After(forceKillGrace):
		s.logger.Errorf("Process survived kill, name: %s, PID: %d", s.instance.Name, pid)
	}
}

// transition records the new state and publishes exactly one event for it
func (s *Supervisor) transition(state State, exit *process.ExitStatus, err error) {
	s.mu.Lock()
	s.state = state
	if state != StateRunning {
		s.pid = 0
	}
	count := s.restartCount
	s.mu.Unlock()

	s.events <- Event{
		Name:         s.instance.Name,
		State:        state,
		RestartCount: count,
		ExitStatus:   exit,
		Err:          err,
	}
}

func (s *Supervisor) noteStarted(pid int) {
	now := time.Now()
	s.mu.Lock()
	s.pid = pid
	s.startedAt = &now
	s.failureReason = ""
	s.mu.Unlock()
}

func (s *Supervisor) noteExit(status process.ExitStatus) {
	s.mu.Lock()
	s.lastExit = &status
	s.mu.Unlock()
}

func (s *Supervisor) noteFailure(err error) {
	s.mu.Lock()
	s.failureReason = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) noteFailureReason(reason string) {
	s.mu.Lock()
	s.failureReason = reason
	s.mu.Unlock()
}

func (s *Supervisor) bumpRestartCount() {
	s.mu.Lock()
	s.restartCount++
	s.mu.Unlock()
}
