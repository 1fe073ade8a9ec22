package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-os/verdantd/pkg/supervisor"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_AddModifyRemove(t *testing.T) {
	dir := t.TempDir()
	o := newTestOrchestrator(t)

	watcher, err := NewWatcher(context.Background(), dir, o, &OrchestratorMockLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	unitPath := filepath.Join(dir, "svc.unit")

	// A new unit file is picked up and its instance started.
	writeFile(t, unitPath, "name: svc\ncmd: /bin/sh\nargs: [-c, sleep 30]\ntimeout-stop: 2\n")
	require.Eventually(t, func() bool {
		status, err := o.Status("svc")
		return err == nil && status.State == supervisor.StateRunning
	}, 10*time.Second, 50*time.Millisecond)

	// An edit reloads the unit with the new definition.
	writeFile(t, unitPath, "name: svc\ncmd: /bin/sh\nargs: [-c, sleep 30]\npriority: 25\ntimeout-stop: 2\n")
	require.Eventually(t, func() bool {
		status, err := o.Status("svc")
		return err == nil && status.Priority == 25 && status.State == supervisor.StateRunning
	}, 10*time.Second, 50*time.Millisecond)

	// Deleting the file stops and unregisters the instance.
	require.NoError(t, os.Remove(unitPath))
	require.Eventually(t, func() bool {
		_, err := o.Status("svc")
		return err != nil
	}, 10*time.Second, 50*time.Millisecond)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	o := newTestOrchestrator(t)

	watcher, err := NewWatcher(context.Background(), dir, o, &OrchestratorMockLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	writeFile(t, filepath.Join(dir, "README.md"), "not a unit")
	writeFile(t, filepath.Join(dir, "svc.unit.bak"), "name: svc\ncmd: /bin/true\n")

	time.Sleep(2 * watchDebounce)
	assert.Empty(t, o.List(""))
}

func TestWatcher_BadFileLeavesUnitAlone(t *testing.T) {
	dir := t.TempDir()
	o := newTestOrchestrator(t)

	watcher, err := NewWatcher(context.Background(), dir, o, &OrchestratorMockLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	unitPath := filepath.Join(dir, "svc.unit")
	writeFile(t, unitPath, "name: svc\ncmd: /bin/sh\nargs: [-c, sleep 30]\ntimeout-stop: 2\n")
	require.Eventually(t, func() bool {
		status, err := o.Status("svc")
		return err == nil && status.State == supervisor.StateRunning
	}, 10*time.Second, 50*time.Millisecond)

	// A broken edit is rejected; the running instance keeps running.
	writeFile(t, unitPath, "name: svc\n") // cmd missing
	time.Sleep(2 * watchDebounce)

	status, err := o.Status("svc")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateRunning, status.State)
}
