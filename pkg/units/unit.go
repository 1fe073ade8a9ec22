package units

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RestartPolicy defines when an exited process should be respawned
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
)

// ParseRestartPolicy converts a config string into a RestartPolicy
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(s) {
	case "", "never":
		return RestartNever, nil
	case "always":
		return RestartAlways, nil
	case "on-failure":
		return RestartOnFailure, nil
	default:
		return RestartNever, fmt.Errorf("unknown restart policy: %q", s)
	}
}

// Duration unmarshals either a bare integer (seconds) or a Go duration
// string ("500ms", "2m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if secs, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Args unmarshals either a YAML sequence or a single space-separated
// scalar ("-L 115200 /dev/{} linux") into an argument list.
type Args []string

func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*a = strings.Fields(value.Value)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

// Definition is the in-memory representation of a unit file. It is created
// at load time and immutable thereafter; all runtime state lives with the
// supervisor of each expanded instance.
type Definition struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"desc,omitempty"`
	Command      string        `yaml:"cmd"`
	Args         Args          `yaml:"args,omitempty"`
	Restart      RestartPolicy `yaml:"restart,omitempty"`
	RestartDelay Duration      `yaml:"restart-delay,omitempty"`
	Priority     int           `yaml:"priority,omitempty"`
	Tags         []string      `yaml:"tags,omitempty"`
	Instances    []string      `yaml:"instances,omitempty"`

	Environment []string `yaml:"env,omitempty"`
	WorkingDir  string   `yaml:"working-dir,omitempty"`
	StdoutLog   string   `yaml:"stdout-log,omitempty"`
	StderrLog   string   `yaml:"stderr-log,omitempty"`

	StartTimeout Duration `yaml:"timeout-start,omitempty"`
	StopTimeout  Duration `yaml:"timeout-stop,omitempty"`

	// MaxRestarts bounds respawn attempts; 0 means unbounded.
	MaxRestarts int `yaml:"max-restarts,omitempty"`

	// SourcePath is the file the definition was loaded from, when known.
	SourcePath string `yaml:"-"`
}

// Defaults applied after parsing. Restart delay defaults to zero, meaning
// an immediate respawn.
const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// ApplyDefaults fills zero-valued fields with their documented defaults
func (d *Definition) ApplyDefaults() {
	if d.Restart == "" {
		d.Restart = RestartNever
	}
	if d.StartTimeout == 0 {
		d.StartTimeout = Duration(DefaultStartTimeout)
	}
	if d.StopTimeout == 0 {
		d.StopTimeout = Duration(DefaultStopTimeout)
	}
}

// Validate checks the parts of a definition that make it unusable
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("unit is missing required field 'name'")
	}
	if d.Command == "" {
		return fmt.Errorf("unit %q is missing required field 'cmd'", d.Name)
	}
	if _, err := ParseRestartPolicy(string(d.Restart)); err != nil {
		return fmt.Errorf("unit %q: %w", d.Name, err)
	}
	for _, id := range d.Instances {
		if id == "" {
			return fmt.Errorf("unit %q has an empty instance identifier", d.Name)
		}
	}
	return nil
}

// HasTag reports whether the definition carries the given tag
func (d *Definition) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Instance is one concrete, fully-substituted realization of a Definition.
// Produced exclusively by Expand; immutable.
type Instance struct {
	Name        string
	Description string
	Command     string
	Args        []string

	// Carried over from the definition for the supervisor and list filters.
	Restart      RestartPolicy
	RestartDelay time.Duration
	Priority     int
	Tags         []string
	Environment  []string
	WorkingDir   string
	StdoutLog    string
	StderrLog    string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	MaxRestarts  int
}

func (i *Instance) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
