package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-os/verdantd/pkg/errors"
)

// PidfileMockLogger is a simple no-op Logger for pid file tests
type PidfileMockLogger struct{}

func (m *PidfileMockLogger) Debugf(format string, args ...interface{}) {}
func (m *PidfileMockLogger) Infof(format string, args ...interface{})  {}
func (m *PidfileMockLogger) Warnf(format string, args ...interface{})  {}
func (m *PidfileMockLogger) Errorf(format string, args ...interface{}) {}

func TestWriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	f := New(path, &PidfileMockLogger{})

	require.NoError(t, f.Write())

	pid, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, f.Remove())
	_, err = f.Read()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestWrite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "daemon.pid")
	f := New(path, &PidfileMockLogger{})

	require.NoError(t, f.Write())

	pid, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWrite_RefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// The parent of the test process is certainly alive.
	otherPid := os.Getppid()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", otherPid)), 0o644))

	f := New(path, &PidfileMockLogger{})
	err := f.Write()
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestWrite_ReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// Garbage content counts as stale, not as a live owner.
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	f := New(path, &PidfileMockLogger{})
	require.NoError(t, f.Write())

	pid, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRemove_LeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getppid())), 0o644))

	f := New(path, &PidfileMockLogger{})
	require.NoError(t, f.Remove())

	// The file is still there: it belongs to another process.
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestRemove_MissingFileIsFine(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "daemon.pid"), &PidfileMockLogger{})
	assert.NoError(t, f.Remove())
}
