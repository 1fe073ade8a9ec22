package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
)

// Spec describes how to launch one service process
type Spec struct {
	Command     string
	Args        []string
	Environment []string
	WorkingDir  string

	// Optional log sinks; opened in append mode, created if missing.
	StdoutLog string
	StderrLog string
}

// ExitStatus captures how a supervised process left the system
type ExitStatus struct {
	Code     int    `json:"code"`
	Signaled bool   `json:"signaled,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Err      error  `json:"-"`
}

// Success reports a clean exit (code 0, not killed by a signal)
func (s ExitStatus) Success() bool {
	return s.Err == nil && !s.Signaled && s.Code == 0
}

// Handle tracks a launched process until Wait collects it
type Handle struct {
	cmd     *exec.Cmd
	closers []io.Closer
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Wait blocks until the process exits and returns its exit status.
// Log sinks are closed once the process is gone.
func (h *Handle) Wait() ExitStatus {
	err := h.cmd.Wait()
	for _, c := range h.closers {
		_ = c.Close()
	}

	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if ee, ok := err.(*exec.ExitError); ok {
		exitErr = ee
	} else {
		return ExitStatus{Code: -1, Err: err}
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signaled: true, Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: exitErr.ExitCode()}
}

// Kill force-terminates the process without waiting
func (h *Handle) Kill() error {
	return h.cmd.Process.Kill()
}

// Start launches the process described by spec. The returned handle owns
// the process; callers must eventually call Wait to collect it.
//
// Launch failures (missing or non-executable binary, unwritable log sink)
// are reported as process errors without a running process.
func Start(ctx context.Context, spec Spec, id string, logger logging.Logger) (*Handle, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	path, err := resolveExecutable(spec.Command)
	if err != nil {
		return nil, errors.NewProcessError("executable is not available", err).
			WithContext("id", id).WithContext("command", spec.Command)
	}

	cmd := exec.Command(path, spec.Args...)

	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}

	env := os.Environ()
	env = append(env, spec.Environment...)
	cmd.Env = env

	var closers []io.Closer

	if spec.StdoutLog != "" {
		stdout, err := openLogSink(spec.StdoutLog)
		if err != nil {
			return nil, errors.NewIOError("failed to open stdout log", err).
				WithContext("id", id).WithContext("path", spec.StdoutLog)
		}
		cmd.Stdout = stdout
		closers = append(closers, stdout)
	}

	if spec.StderrLog != "" {
		if spec.StderrLog == spec.StdoutLog && cmd.Stdout != nil {
			cmd.Stderr = cmd.Stdout
		} else {
			stderr, err := openLogSink(spec.StderrLog)
			if err != nil {
				for _, c := range closers {
					_ = c.Close()
				}
				return nil, errors.NewIOError("failed to open stderr log", err).
					WithContext("id", id).WithContext("path", spec.StderrLog)
			}
			cmd.Stderr = stderr
			closers = append(closers, stderr)
		}
	}

	// Platform-specific attributes: on Unix the child gets its own process
	// group so termination signals reach the whole tree.
	setupProcessAttributes(cmd)

	logger.Debugf("Executing process, id: %s, path: %s, args: %v, dir: %s",
		id, path, spec.Args, cmd.Dir)

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).WithContext("command", spec.Command)
	}

	logger.Infof("Process started, id: %s, PID: %d", id, cmd.Process.Pid)

	return &Handle{cmd: cmd, closers: closers}, nil
}

// resolveExecutable locates the binary and verifies it can be executed
func resolveExecutable(command string) (string, error) {
	if !strings.ContainsRune(command, os.PathSeparator) {
		return exec.LookPath(command)
	}

	info, err := os.Stat(command)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", &os.PathError{Op: "exec", Path: command, Err: syscall.EISDIR}
	}
	if info.Mode()&0111 == 0 {
		return "", &os.PathError{Op: "exec", Path: command, Err: syscall.EACCES}
	}
	return command, nil
}

func openLogSink(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
