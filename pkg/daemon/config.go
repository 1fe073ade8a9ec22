package daemon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/units"
)

// Config represents the top-level daemon configuration file structure
type Config struct {
	Daemon Options `yaml:"daemon"`
}

// Options represents daemon-level configuration
type Options struct {
	// UnitsDir holds the *.unit definition files.
	UnitsDir string `yaml:"units_dir,omitempty"`

	// SocketPath is where the control API listens.
	SocketPath string `yaml:"socket_path,omitempty"`

	// PidFile records the daemon pid; empty disables it.
	PidFile string `yaml:"pid_file,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`

	// WatchUnits enables hot reload of the units directory.
	WatchUnits *bool `yaml:"watch_units,omitempty"`

	// MetricsAddress exposes Prometheus metrics over TCP when set
	// (e.g. "127.0.0.1:9640"); empty disables metrics.
	MetricsAddress string `yaml:"metrics_address,omitempty"`

	// ForceShutdownTimeout accepts bare seconds or a Go duration string,
	// matching the duration syntax of unit files.
	ForceShutdownTimeout units.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

const (
	DefaultUnitsDir             = "/etc/verdantd/units"
	DefaultSocketPath           = "/run/verdantd/control.sock"
	DefaultPidFile              = "/run/verdantd/verdantd.pid"
	DefaultLogLevel             = "info"
	DefaultForceShutdownTimeout = units.Duration(30 * time.Second)
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads daemon configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateConfig validates the configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if config.Daemon.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Daemon.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if config.Daemon.ForceShutdownTimeout < 0 {
		return errors.NewValidationError("force_shutdown_timeout cannot be negative", nil)
	}
	return nil
}

// WatchEnabled reports whether the units directory watcher should run.
// Watching defaults to on.
func (o *Options) WatchEnabled() bool {
	return o.WatchUnits == nil || *o.WatchUnits
}

func setConfigDefaults(config *Config) {
	if config.Daemon.UnitsDir == "" {
		config.Daemon.UnitsDir = DefaultUnitsDir
	}
	if config.Daemon.SocketPath == "" {
		config.Daemon.SocketPath = DefaultSocketPath
	}
	if config.Daemon.PidFile == "" {
		config.Daemon.PidFile = DefaultPidFile
	}
	if config.Daemon.LogLevel == "" {
		config.Daemon.LogLevel = DefaultLogLevel
	}
	if config.Daemon.ForceShutdownTimeout == 0 {
		config.Daemon.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}
}
