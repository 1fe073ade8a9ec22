package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
	"github.com/verdant-os/verdantd/pkg/metrics"
	"github.com/verdant-os/verdantd/pkg/supervisor"
	"github.com/verdant-os/verdantd/pkg/units"
)

// Options configures an Orchestrator
type Options struct {
	// ForceShutdownTimeout bounds the whole shutdown sequence.
	ForceShutdownTimeout time.Duration

	// Metrics receives supervision events; nil means no metrics.
	Metrics metrics.Collector
}

// OrchestratorState tracks the lifecycle of the orchestrator itself
type OrchestratorState string

const (
	OrchestratorStateRunning  OrchestratorState = "running"
	OrchestratorStateStopping OrchestratorState = "stopping"
	OrchestratorStateStopped  OrchestratorState = "stopped"
)

// entry combines everything the orchestrator tracks per instance name.
// A nil Supervisor marks a unit that failed expansion: it is reported in
// Failed state with its reason but owns no process.
type entry struct {
	instance      units.Instance
	unitName      string // definition the instance came from
	order         int    // start order position, fixed at registration
	sup           *supervisor.Supervisor
	failureReason string
}

// Orchestrator owns the authoritative mapping from instance name to its
// supervisor. The map is the single shared mutable resource; every access
// goes through the mutex, and long-running work (spawning, stopping)
// happens outside the lock on copies taken under it.
type Orchestrator struct {
	options Options
	logger  logging.Logger
	metrics metrics.Collector

	mutex     sync.Mutex
	entries   map[string]*entry
	nextOrder int
	state     OrchestratorState

	events        chan supervisor.Event
	eventLoopQuit chan struct{}
	eventLoopDone chan struct{}
}

// New creates an orchestrator and starts its event loop
func New(options Options, logger logging.Logger) *Orchestrator {
	collector := options.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	o := &Orchestrator{
		options:       options,
		logger:        logger,
		metrics:       collector,
		entries:       make(map[string]*entry),
		state:         OrchestratorStateRunning,
		events:        make(chan supervisor.Event, 64),
		eventLoopQuit: make(chan struct{}),
		eventLoopDone: make(chan struct{}),
	}

	go o.eventLoop()

	return o
}

// Load expands and registers a full set of definitions.
//
// Two instances resolving to the same name abort the whole set: nothing is
// registered and a conflict error is returned. Per-unit template errors
// only disable the offending unit, which stays visible in Failed state
// with its reason.
func (o *Orchestrator) Load(defs []units.Definition) error {
	type pending struct {
		instance units.Instance
		unitName string
	}

	var instances []pending
	seen := make(map[string]string) // instance name -> unit it came from
	failed := make(map[string]error)

	for i := range defs {
		def := &defs[i]
		expanded, err := units.Expand(def)
		if err != nil {
			o.logger.Errorf("Unit %s disabled: %v", def.Name, err)
			failed[def.Name] = err
			continue
		}
		for _, inst := range expanded {
			if firstUnit, dup := seen[inst.Name]; dup {
				return errors.NewConflictError(
					fmt.Sprintf("duplicate instance name %q (units %q and %q)", inst.Name, firstUnit, def.Name),
					nil).WithContext("instance", inst.Name)
			}
			seen[inst.Name] = def.Name
			instances = append(instances, pending{instance: inst, unitName: def.Name})
		}
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.state != OrchestratorStateRunning {
		return errors.NewValidationError(
			fmt.Sprintf("orchestrator is not running, state: %s", o.state), nil)
	}

	for _, p := range instances {
		if _, exists := o.entries[p.instance.Name]; exists {
			return errors.NewConflictError(
				fmt.Sprintf("instance %q is already registered", p.instance.Name),
				nil).WithContext("instance", p.instance.Name)
		}
	}

	for _, p := range instances {
		o.entries[p.instance.Name] = &entry{
			instance: p.instance,
			unitName: p.unitName,
			order:    o.nextOrder,
		}
		o.nextOrder++
	}

	for unitName, err := range failed {
		// Keep the failed unit visible under its definition name unless
		// that would shadow a real instance.
		if _, exists := o.entries[unitName]; exists {
			continue
		}
		o.entries[unitName] = &entry{
			instance:      units.Instance{Name: unitName},
			unitName:      unitName,
			order:         o.nextOrder,
			failureReason: err.Error(),
		}
		o.nextOrder++
	}

	o.metrics.Instances(len(o.entries))

	o.logger.Infof("Registered %d instance(s) from %d definition(s), %d disabled",
		len(instances), len(defs), len(failed))
	return nil
}

// StartAll starts every registered instance ordered by ascending priority,
// ties broken by declaration order. Individual start failures are logged
// and do not abort the remaining instances.
func (o *Orchestrator) StartAll(ctx context.Context) {
	for _, name := range o.startOrder() {
		if err := o.Start(ctx, name); err != nil {
			o.logger.Errorf("Failed to start instance %s: %v", name, err)
			continue
		}
	}
}

// Start launches the named instance. An instance whose previous run ended
// gets a fresh supervisor; a template-failed unit returns its reason.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	o.mutex.Lock()

	if o.state != OrchestratorStateRunning {
		state := o.state
		o.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("orchestrator must be running to start instances, state: %s", state),
			nil).WithContext("instance", name)
	}

	e, exists := o.entries[name]
	if !exists {
		o.mutex.Unlock()
		return errors.NewNotFoundError("instance not found", nil).WithContext("instance", name)
	}

	if e.sup == nil && e.failureReason != "" {
		reason := e.failureReason
		o.mutex.Unlock()
		return errors.NewTemplateError(
			fmt.Sprintf("unit is disabled: %s", reason), nil).WithContext("instance", name)
	}

	if e.sup != nil {
		// Done closes only once the monitor goroutine has exited; a
		// transient terminal state during a respawn must not admit a
		// second supervisor for the same entry.
		select {
		case <-e.sup.Done():
		default:
			o.mutex.Unlock()
			return errors.NewValidationError("instance is already running", nil).WithContext("instance", name)
		}
	}

	sup := supervisor.New(e.instance, o.events, o.instanceLogger(name))
	e.sup = sup
	o.mutex.Unlock()

	o.logger.Infof("Starting instance, name: %s, priority: %d", name, e.instance.Priority)

	// The initial spawn happens outside the lock; it can block on I/O.
	if err := sup.Start(ctx); err != nil {
		o.logger.Errorf("Failed to start instance, name: %s, error: %v", name, err)
		return err
	}

	return nil
}

// Stop gracefully stops the named instance
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mutex.Lock()
	e, exists := o.entries[name]
	var sup *supervisor.Supervisor
	if exists {
		sup = e.sup
	}
	o.mutex.Unlock()

	if !exists {
		return errors.NewNotFoundError("instance not found", nil).WithContext("instance", name)
	}
	if sup == nil {
		return errors.NewValidationError("instance has no process", nil).WithContext("instance", name)
	}

	o.logger.Infof("Stopping instance, name: %s", name)
	return sup.Stop(ctx)
}

// Status returns the current snapshot of the named instance
func (o *Orchestrator) Status(name string) (supervisor.Status, error) {
	o.mutex.Lock()
	e, exists := o.entries[name]
	o.mutex.Unlock()

	if !exists {
		return supervisor.Status{}, errors.NewNotFoundError("instance not found", nil).WithContext("instance", name)
	}

	return o.entryStatus(e), nil
}

// List returns snapshots of all instances carrying the given tag, in start
// order. An empty tag matches every instance.
func (o *Orchestrator) List(tag string) []supervisor.Status {
	o.mutex.Lock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		if tag != "" && !e.instance.HasTag(tag) {
			continue
		}
		entries = append(entries, e)
	}
	o.mutex.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].instance.Priority != entries[j].instance.Priority {
			return entries[i].instance.Priority < entries[j].instance.Priority
		}
		return entries[i].order < entries[j].order
	})

	statuses := make([]supervisor.Status, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, o.entryStatus(e))
	}
	return statuses
}

// Shutdown stops all instances in reverse start order, bounded by the
// force-shutdown timeout, then retires the orchestrator.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Infof("Shutting down orchestrator...")

	o.mutex.Lock()
	if o.state != OrchestratorStateRunning {
		state := o.state
		o.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("orchestrator is not running, state: %s", state), nil)
	}
	o.state = OrchestratorStateStopping
	o.mutex.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	forceTimeout := o.options.ForceShutdownTimeout
	if forceTimeout <= 0 {
		forceTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, forceTimeout)
	defer cancel()

	// Reverse of the start order: highest priority (started last) first.
	order := o.startOrder()
	errorCollection := errors.NewErrorCollection()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		o.mutex.Lock()
		e := o.entries[name]
		var sup *supervisor.Supervisor
		if e != nil {
			sup = e.sup
		}
		o.mutex.Unlock()

		if sup == nil {
			continue
		}

		if err := sup.Stop(ctx); err != nil {
			o.logger.Errorf("Failed to stop instance, name: %s, error: %v", name, err)
			errorCollection.Add(errors.NewProcessError("failed to stop instance", err).WithContext("instance", name))
		}
	}

	// Catch supervisors registered by a Start racing with the snapshot
	// above; every monitor goroutine must be done before the event
	// channel closes.
	o.mutex.Lock()
	var stragglers []*supervisor.Supervisor
	for _, e := range o.entries {
		if e.sup != nil {
			stragglers = append(stragglers, e.sup)
		}
	}
	o.mutex.Unlock()

	for _, sup := range stragglers {
		if err := sup.Stop(ctx); err != nil {
			errorCollection.Add(err)
		}
	}

	o.mutex.Lock()
	o.state = OrchestratorStateStopped
	o.mutex.Unlock()

	// The channel itself stays open: a process that survived its kill may
	// still have a monitor goroutine around, and a late send must not
	// panic. The loop drains what is buffered and leaves.
	close(o.eventLoopQuit)
	<-o.eventLoopDone

	o.logger.Infof("Orchestrator stopped")
	return errorCollection.ToError()
}

// State returns the orchestrator lifecycle state
func (o *Orchestrator) State() OrchestratorState {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.state
}

// startOrder returns instance names sorted by ascending priority with
// declaration order breaking ties.
func (o *Orchestrator) startOrder() []string {
	o.mutex.Lock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		if e.sup == nil && e.failureReason != "" {
			continue // disabled units are never started
		}
		entries = append(entries, e)
	}
	o.mutex.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].instance.Priority != entries[j].instance.Priority {
			return entries[i].instance.Priority < entries[j].instance.Priority
		}
		return entries[i].order < entries[j].order
	})

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.instance.Name)
	}
	return names
}

func (o *Orchestrator) entryStatus(e *entry) supervisor.Status {
	if e.sup != nil {
		return e.sup.Status()
	}
	return supervisor.Status{
		Name:          e.instance.Name,
		Description:   e.instance.Description,
		State:         supervisor.StateFailed,
		FailureReason: e.failureReason,
		Tags:          e.instance.Tags,
		Priority:      e.instance.Priority,
	}
}

func (o *Orchestrator) instanceLogger(name string) logging.Logger {
	return logging.NewLogger("instance: "+name+" , ", logging.LogFuncs{
		Debugf: o.logger.Debugf,
		Infof:  o.logger.Infof,
		Warnf:  o.logger.Warnf,
		Errorf: o.logger.Errorf,
	})
}

// eventLoop consumes supervisor events, feeding logs and metrics. It is
// the only reader of o.events and exits on the quit signal after draining
// whatever is buffered.
func (o *Orchestrator) eventLoop() {
	defer close(o.eventLoopDone)

	lastState := make(map[string]supervisor.State)

	handle := func(event supervisor.Event) {
		from, ok := lastState[event.Name]
		if !ok {
			from = supervisor.StateStopped
		}
		lastState[event.Name] = event.State

		o.metrics.StateTransition(event.Name, string(from), string(event.State))

		switch event.State {
		case supervisor.StateRestarting:
			o.metrics.Restart(event.Name)
		case supervisor.StateFailed:
			if event.Err != nil {
				o.metrics.SpawnFailure(event.Name)
			}
		}

		if event.Err != nil {
			o.logger.Warnf("Instance event, name: %s, state: %s, restarts: %d, error: %v",
				event.Name, event.State, event.RestartCount, event.Err)
		} else {
			o.logger.Debugf("Instance event, name: %s, state: %s, restarts: %d",
				event.Name, event.State, event.RestartCount)
		}
	}

	for {
		select {
		case event := <-o.events:
			handle(event)
		case <-o.eventLoopQuit:
			for {
				select {
				case event := <-o.events:
					handle(event)
				default:
					return
				}
			}
		}
	}
}
