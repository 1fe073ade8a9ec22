package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/orchestrator"
	"github.com/verdant-os/verdantd/pkg/supervisor"
	"github.com/verdant-os/verdantd/pkg/units"
)

// ControlMockLogger is a simple no-op Logger for control tests
type ControlMockLogger struct{}

func (m *ControlMockLogger) Debugf(format string, args ...interface{}) {}
func (m *ControlMockLogger) Infof(format string, args ...interface{})  {}
func (m *ControlMockLogger) Warnf(format string, args ...interface{})  {}
func (m *ControlMockLogger) Errorf(format string, args ...interface{}) {}

// startTestServer brings up an orchestrator with one running sleeper
// instance and a control server on a per-test socket. The returned
// channel closes when a client requests daemon shutdown.
func startTestServer(t *testing.T) (*Client, chan struct{}, *orchestrator.Orchestrator) {
	t.Helper()

	logger := &ControlMockLogger{}
	orch := orchestrator.New(orchestrator.Options{ForceShutdownTimeout: 30 * time.Second}, logger)

	def := units.Definition{
		Name:    "svc",
		Command: "/bin/sh",
		Args:    units.Args{"-c", "sleep 30"},
		Tags:    []string{"net"},
	}
	def.ApplyDefaults()
	def.StopTimeout = units.Duration(2 * time.Second)

	require.NoError(t, orch.Load([]units.Definition{def}))
	orch.StartAll(context.Background())

	socketPath := filepath.Join(t.TempDir(), "control.sock")
	server := NewServer(socketPath, orch, logger)

	shutdownRequested := make(chan struct{})
	server.ShutdownRequested = func() {
		close(shutdownRequested)
	}

	go func() {
		_ = server.Serve()
	}()

	client := NewClient(socketPath)

	// Wait for the listener to come up.
	require.Eventually(t, func() bool {
		_, err := client.Status(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Close(ctx)
		if orch.State() == orchestrator.OrchestratorStateRunning {
			_ = orch.Shutdown(context.Background())
		}
	})

	return client, shutdownRequested, orch
}

func TestControl_StatusRoundTrip(t *testing.T) {
	client, _, _ := startTestServer(t)
	ctx := context.Background()

	statuses, err := client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "svc", statuses[0].Name)
	assert.Equal(t, supervisor.StateRunning, statuses[0].State)
	assert.Greater(t, statuses[0].Pid, 0)

	single, err := client.StatusOf(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, statuses[0].Name, single.Name)
	assert.Equal(t, statuses[0].Pid, single.Pid)
}

func TestControl_StatusOfUnknown(t *testing.T) {
	client, _, _ := startTestServer(t)

	_, err := client.StatusOf(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestControl_UnitsTagFilter(t *testing.T) {
	client, _, _ := startTestServer(t)
	ctx := context.Background()

	tagged, err := client.Units(ctx, "net")
	require.NoError(t, err)
	assert.Len(t, tagged, 1)

	none, err := client.Units(ctx, "storage")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestControl_StopAndStart(t *testing.T) {
	client, _, _ := startTestServer(t)
	ctx := context.Background()

	stopped, err := client.Stop(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateStopped, stopped.State)

	started, err := client.Start(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateRunning, started.State)

	// Starting a running instance reports a validation error.
	_, err = client.Start(ctx, "svc")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestControl_Shutdown(t *testing.T) {
	client, shutdownRequested, _ := startTestServer(t)

	require.NoError(t, client.Shutdown(context.Background()))

	select {
	case <-shutdownRequested:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func TestControl_ClientWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))

	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}
