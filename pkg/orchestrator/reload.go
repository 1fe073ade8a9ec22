package orchestrator

import (
	"context"
	"fmt"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/supervisor"
	"github.com/verdant-os/verdantd/pkg/units"
)

// AddDefinition expands and registers a unit at runtime and starts its
// instances. Unlike Load, a name collision here rejects only this unit,
// leaving the managed set untouched.
func (o *Orchestrator) AddDefinition(ctx context.Context, def units.Definition) error {
	expanded, err := units.Expand(&def)
	if err != nil {
		return err
	}

	o.mutex.Lock()

	if o.state != OrchestratorStateRunning {
		state := o.state
		o.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("orchestrator is not running, state: %s", state), nil)
	}

	for _, inst := range expanded {
		if _, exists := o.entries[inst.Name]; exists {
			o.mutex.Unlock()
			return errors.NewConflictError(
				fmt.Sprintf("instance %q is already registered", inst.Name),
				nil).WithContext("instance", inst.Name).WithContext("unit", def.Name)
		}
	}

	for _, inst := range expanded {
		o.entries[inst.Name] = &entry{
			instance: inst,
			unitName: def.Name,
			order:    o.nextOrder,
		}
		o.nextOrder++
	}
	o.metrics.Instances(len(o.entries))
	o.mutex.Unlock()

	o.logger.Infof("Hot-added unit %s with %d instance(s)", def.Name, len(expanded))

	for _, inst := range expanded {
		if err := o.Start(ctx, inst.Name); err != nil {
			o.logger.Errorf("Failed to start hot-added instance %s: %v", inst.Name, err)
		}
	}
	return nil
}

// RemoveUnit stops and unregisters every instance that came from the
// named unit definition.
func (o *Orchestrator) RemoveUnit(ctx context.Context, unitName string) error {
	// Snapshot names and supervisor pointers under the lock; a concurrent
	// Start may swap e.sup at any time.
	type doomed struct {
		name string
		sup  *supervisor.Supervisor
	}
	o.mutex.Lock()
	var victims []doomed
	for _, e := range o.entries {
		if e.unitName == unitName {
			victims = append(victims, doomed{name: e.instance.Name, sup: e.sup})
		}
	}
	o.mutex.Unlock()

	if len(victims) == 0 {
		return errors.NewNotFoundError("unit not found", nil).WithContext("unit", unitName)
	}

	errorCollection := errors.NewErrorCollection()
	for _, v := range victims {
		if v.sup != nil {
			if err := v.sup.Stop(ctx); err != nil {
				errorCollection.Add(err)
				continue
			}
		}
		o.mutex.Lock()
		delete(o.entries, v.name)
		o.metrics.Instances(len(o.entries))
		o.mutex.Unlock()
	}

	o.logger.Infof("Removed unit %s (%d instance(s))", unitName, len(victims))
	return errorCollection.ToError()
}

// ReloadDefinition replaces a unit's instances with a freshly parsed
// definition: old instances are stopped and dropped, new ones started.
func (o *Orchestrator) ReloadDefinition(ctx context.Context, def units.Definition) error {
	if err := o.RemoveUnit(ctx, def.Name); err != nil && !errors.IsNotFoundError(err) {
		return err
	}
	return o.AddDefinition(ctx, def)
}
