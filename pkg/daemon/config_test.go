package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-os/verdantd/pkg/units"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DefaultUnitsDir, config.Daemon.UnitsDir)
	assert.Equal(t, DefaultSocketPath, config.Daemon.SocketPath)
	assert.Equal(t, DefaultPidFile, config.Daemon.PidFile)
	assert.Equal(t, DefaultLogLevel, config.Daemon.LogLevel)
	assert.Equal(t, DefaultForceShutdownTimeout, config.Daemon.ForceShutdownTimeout)
	assert.True(t, config.Daemon.WatchEnabled())
	assert.Empty(t, config.Daemon.MetricsAddress)
}

func TestLoadConfigFromFile(t *testing.T) {
	doc := `
daemon:
  units_dir: /srv/units
  socket_path: /tmp/test.sock
  log_level: debug
  watch_units: false
  metrics_address: "127.0.0.1:9640"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/units", config.Daemon.UnitsDir)
	assert.Equal(t, "/tmp/test.sock", config.Daemon.SocketPath)
	assert.Equal(t, "debug", config.Daemon.LogLevel)
	assert.False(t, config.Daemon.WatchEnabled())
	assert.Equal(t, "127.0.0.1:9640", config.Daemon.MetricsAddress)

	// Unset fields still get defaults.
	assert.Equal(t, DefaultPidFile, config.Daemon.PidFile)
	assert.Equal(t, DefaultForceShutdownTimeout, config.Daemon.ForceShutdownTimeout)
}

func TestLoadConfigFromFile_ShutdownTimeoutForms(t *testing.T) {
	// Same duration syntax as unit files: bare seconds or a Go string.
	cases := []struct {
		value string
		want  units.Duration
	}{
		{"30s", units.Duration(30 * time.Second)},
		{"45", units.Duration(45 * time.Second)},
		{"2m", units.Duration(2 * time.Minute)},
	}

	for _, tc := range cases {
		doc := "daemon:\n  force_shutdown_timeout: " + tc.value + "\n"
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		config, err := LoadConfigFromFile(path)
		require.NoError(t, err, "value %q", tc.value)
		assert.Equal(t, tc.want, config.Daemon.ForceShutdownTimeout, "value %q", tc.value)
	}
}

func TestLoadConfigFromFile_InvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  log_level: loud\n"), 0o644))

	_, err := LoadConfigFromFile(path)
	assert.Error(t, err)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NoError(t, ValidateConfig(config))

	config.Daemon.ForceShutdownTimeout = units.Duration(-time.Second)
	assert.Error(t, ValidateConfig(config))

	assert.Error(t, ValidateConfig(nil))
}
