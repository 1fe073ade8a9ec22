package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
)

// File manages the daemon pid file. The file is written atomically so
// a reader never observes a partial pid.
type File struct {
	path   string
	logger logging.Logger
}

func New(path string, logger logging.Logger) *File {
	return &File{
		path:   path,
		logger: logger,
	}
}

// Write records the current process pid. It refuses to overwrite the
// pid file of another live daemon; a stale file left by a crashed run
// is replaced.
func (f *File) Write() error {
	if pid, err := f.Read(); err == nil && pid != os.Getpid() && processAlive(pid) {
		return errors.NewConflictError("daemon already running", nil).
			WithContext("pid_file", f.path).
			WithContext("pid", pid)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.NewIOError("failed to create pid file directory", err).WithContext("pid_file", f.path)
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := renameio.WriteFile(f.path, []byte(content), 0o644); err != nil {
		return errors.NewIOError("failed to write pid file", err).WithContext("pid_file", f.path)
	}

	f.logger.Debugf("Wrote pid file %s (pid %d)", f.path, os.Getpid())
	return nil
}

// Read returns the pid recorded in the file
func (f *File) Read() (int, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("pid file not found", err).WithContext("pid_file", f.path)
		}
		return 0, errors.NewIOError("failed to read pid file", err).WithContext("pid_file", f.path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid pid file content", err).
			WithContext("pid_file", f.path).
			WithContext("content", strings.TrimSpace(string(content)))
	}
	return pid, nil
}

// Remove deletes the pid file, but only if it still belongs to this
// process.
func (f *File) Remove() error {
	pid, err := f.Read()
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		f.logger.Warnf("Pid file %s now owned by pid %d, leaving it", f.path, pid)
		return nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove pid file", err).WithContext("pid_file", f.path)
	}
	return nil
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
