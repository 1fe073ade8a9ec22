package metrics

// Collector receives supervision events for export. Implementations must
// be safe for concurrent use; the orchestrator calls them from its event
// loop and from API handlers.
type Collector interface {
	// StateTransition records an instance moving between lifecycle states
	StateTransition(name, fromState, toState string)

	// Restart records one respawn of an instance
	Restart(name string)

	// SpawnFailure records a failed launch attempt
	SpawnFailure(name string)

	// Instances records the current size of the managed set
	Instances(count int)
}

type noopCollector struct{}

func (noopCollector) StateTransition(name, fromState, toState string) {}
func (noopCollector) Restart(name string)                             {}
func (noopCollector) SpawnFailure(name string)                        {}
func (noopCollector) Instances(count int)                             {}

// NewNoopCollector returns a collector that discards everything
func NewNoopCollector() Collector {
	return noopCollector{}
}
