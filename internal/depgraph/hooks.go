package depgraph

// Hooks bundles the collaborator callbacks that linking, propagation, and
// finalization invoke as side effects fire: an instrumentation sink plus the
// two queue hand-offs (§6's Scheduler collaborator) that turn "a task became
// ready" or "a task became removable" into a decision made outside this
// package. Any nil field behaves as if it were absent.
type Hooks struct {
	Sink InstrumentationSink

	// OnReady fires the moment a task's predecessor_count reaches zero.
	OnReady func(task *Task)
	// OnRemovable fires the moment a task's removal_countdown reaches zero
	// with removal_blocking_count already at zero.
	OnRemovable func(task *Task)
}

// defaultHooks returns a Hooks with a NopSink and no queue callbacks, for
// callers that only care about the graph mutation and not its side effects.
func defaultHooks() *Hooks {
	return &Hooks{Sink: NopSink{}}
}

func (h *Hooks) sink() InstrumentationSink {
	if h == nil || h.Sink == nil {
		return NopSink{}
	}
	return h.Sink
}

func (h *Hooks) ready(task *Task) {
	if h != nil && h.OnReady != nil {
		h.OnReady(task)
	}
}

func (h *Hooks) removable(task *Task) {
	if h != nil && h.OnRemovable != nil {
		h.OnRemovable(task)
	}
}
