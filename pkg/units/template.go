package units

import (
	"fmt"
	"strings"

	"github.com/verdant-os/verdantd/pkg/errors"
)

// Placeholder tokens recognized in templated definitions. Both are replaced
// with the instance identifier; `{id}` is the explicit named form.
const (
	TokenDefault = "{}"
	TokenNamed   = "{id}"
)

func containsToken(s string) bool {
	return strings.Contains(s, TokenDefault) || strings.Contains(s, TokenNamed)
}

func substitute(s, id string) string {
	s = strings.ReplaceAll(s, TokenDefault, id)
	return strings.ReplaceAll(s, TokenNamed, id)
}

func definitionHasToken(def *Definition) bool {
	if containsToken(def.Name) || containsToken(def.Description) {
		return true
	}
	for _, arg := range def.Args {
		if containsToken(arg) {
			return true
		}
	}
	return false
}

// Expand resolves a Definition into its ordered sequence of Instances.
//
// A definition without an `instances` list yields exactly one instance with
// the definition's fields unchanged. A templated definition yields one
// instance per identifier, with every token occurrence in name, description
// and each argument replaced by that identifier.
//
// Returns a template error when tokens and the instances list are
// inconsistent: a token with no instances declared, or instances declared
// on a name with no token (all instances would resolve to the same name).
func Expand(def *Definition) ([]Instance, error) {
	if len(def.Instances) == 0 {
		if definitionHasToken(def) {
			return nil, errors.NewTemplateError(
				fmt.Sprintf("unit %q uses a placeholder token but declares no instances", def.Name),
				nil).WithContext("unit", def.Name)
		}
		return []Instance{newInstance(def, def.Name, def.Description, def.Args)}, nil
	}

	if !containsToken(def.Name) {
		return nil, errors.NewTemplateError(
			fmt.Sprintf("unit %q declares %d instances but its name has no placeholder token", def.Name, len(def.Instances)),
			nil).WithContext("unit", def.Name)
	}

	instances := make([]Instance, 0, len(def.Instances))
	for _, id := range def.Instances {
		args := make([]string, len(def.Args))
		for i, arg := range def.Args {
			args[i] = substitute(arg, id)
		}
		instances = append(instances, newInstance(
			def,
			substitute(def.Name, id),
			substitute(def.Description, id),
			args,
		))
	}
	return instances, nil
}

func newInstance(def *Definition, name, desc string, args []string) Instance {
	// Copy the argument slice so instances never alias definition storage.
	argsCopy := make([]string, len(args))
	copy(argsCopy, args)

	return Instance{
		Name:         name,
		Description:  desc,
		Command:      def.Command,
		Args:         argsCopy,
		Restart:      def.Restart,
		RestartDelay: def.RestartDelay.Duration(),
		Priority:     def.Priority,
		Tags:         append([]string(nil), def.Tags...),
		Environment:  append([]string(nil), def.Environment...),
		WorkingDir:   def.WorkingDir,
		StdoutLog:    def.StdoutLog,
		StderrLog:    def.StderrLog,
		StartTimeout: def.StartTimeout.Duration(),
		StopTimeout:  def.StopTimeout.Duration(),
		MaxRestarts:  def.MaxRestarts,
	}
}

// ExpandAll expands a sequence of definitions preserving declaration order.
// Expansion failures disable only the offending definition; they are
// returned keyed by unit name so the caller can report them.
func ExpandAll(defs []Definition) ([]Instance, map[string]error) {
	var all []Instance
	failed := make(map[string]error)

	for i := range defs {
		instances, err := Expand(&defs[i])
		if err != nil {
			failed[defs[i].Name] = err
			continue
		}
		all = append(all, instances...)
	}
	return all, failed
}
