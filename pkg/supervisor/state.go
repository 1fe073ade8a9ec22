package supervisor

import (
	"time"

	"github.com/verdant-os/verdantd/pkg/process"
)

// State is the lifecycle state of one supervised instance.
//
//	Stopped -> Starting -> Running -> {Stopped | Failed}
//
// Restarting is the transient state between an exit (Running/Failed) and
// the next Starting when the restart policy permits a respawn.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

// Terminal reports whether the supervisor has permanently left the
// process alone: no process is running and no respawn is scheduled.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Event is published to the orchestrator on every state transition
type Event struct {
	Name         string
	State        State
	RestartCount int

	// ExitStatus is set on transitions caused by a process exit.
	ExitStatus *process.ExitStatus

	// Err is set on transitions caused by a spawn failure.
	Err error
}

// Status is a point-in-time snapshot of a supervised instance
type Status struct {
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	State         State               `json:"state"`
	Pid           int                 `json:"pid,omitempty"`
	RestartCount  int                 `json:"restart_count"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	LastExit      *process.ExitStatus `json:"last_exit,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Priority      int                 `json:"priority"`
}
