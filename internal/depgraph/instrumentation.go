package depgraph

import "github.com/parallux/depengine/pkg/region"

// InstrumentationSink receives the engine's event hooks. Every method must
// be safe to call while the engine holds a task's lock, so implementations
// must not block or re-enter the engine; a sink that wants to do expensive
// work (the journal, §13) should queue the event and return immediately.
//
// All methods are no-op compatible: NopSink implements every one as a
// no-op, and embedding it is the easiest way to implement only the events a
// sink cares about.
type InstrumentationSink interface {
	CreatedAccess(task *Task, kind AccessKind, r region.Region)
	Upgraded(task *Task, r region.Region, oldKind, newKind AccessKind)
	Linked(prev, next *Task, r region.Region)
	Unlinked(prev, next *Task, r region.Region)
	Satisfied(task *Task, r region.Region, read, write, topmost bool)
	Removable(task *Task)
	Removed(task *Task, r region.Region)
	Fragmented(task *Task, original, into region.Region)
	ModifiedRegion(task *Task, r region.Region)
}

// NopSink implements InstrumentationSink with every method a no-op. Embed
// it to implement a partial sink.
type NopSink struct{}

func (NopSink) CreatedAccess(*Task, AccessKind, region.Region)       {}
func (NopSink) Upgraded(*Task, region.Region, AccessKind, AccessKind) {}
func (NopSink) Linked(*Task, *Task, region.Region)                   {}
func (NopSink) Unlinked(*Task, *Task, region.Region)                 {}
func (NopSink) Satisfied(*Task, region.Region, bool, bool, bool)     {}
func (NopSink) Removable(*Task)                                     {}
func (NopSink) Removed(*Task, region.Region)                         {}
func (NopSink) Fragmented(*Task, region.Region, region.Region)       {}
func (NopSink) ModifiedRegion(*Task, region.Region)                  {}

// multiSink fans an event out to every sink in order. FanOut builds it; the
// engine does not install one by default.
type multiSink struct {
	sinks []InstrumentationSink
}

func fanOut(sinks ...InstrumentationSink) InstrumentationSink {
	return &multiSink{sinks: sinks}
}

// FanOut returns a sink that dispatches every event to each of sinks, in
// order, skipping any nil entries. Collaborators that want both a logging
// sink and a journal (or any other sink) wired into the same Hooks use this
// to combine them into one.
func FanOut(sinks ...InstrumentationSink) InstrumentationSink {
	filtered := make([]InstrumentationSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return fanOut(filtered...)
}

func (m *multiSink) CreatedAccess(task *Task, kind AccessKind, r region.Region) {
	for _, s := range m.sinks {
		s.CreatedAccess(task, kind, r)
	}
}

func (m *multiSink) Upgraded(task *Task, r region.Region, oldKind, newKind AccessKind) {
	for _, s := range m.sinks {
		s.Upgraded(task, r, oldKind, newKind)
	}
}

func (m *multiSink) Linked(prev, next *Task, r region.Region) {
	for _, s := range m.sinks {
		s.Linked(prev, next, r)
	}
}

func (m *multiSink) Unlinked(prev, next *Task, r region.Region) {
	for _, s := range m.sinks {
		s.Unlinked(prev, next, r)
	}
}

func (m *multiSink) Satisfied(task *Task, r region.Region, read, write, topmost bool) {
	for _, s := range m.sinks {
		s.Satisfied(task, r, read, write, topmost)
	}
}

func (m *multiSink) Removable(task *Task) {
	for _, s := range m.sinks {
		s.Removable(task)
	}
}

func (m *multiSink) Removed(task *Task, r region.Region) {
	for _, s := range m.sinks {
		s.Removed(task, r)
	}
}

func (m *multiSink) Fragmented(task *Task, original, into region.Region) {
	for _, s := range m.sinks {
		s.Fragmented(task, original, into)
	}
}

func (m *multiSink) ModifiedRegion(task *Task, r region.Region) {
	for _, s := range m.sinks {
		s.ModifiedRegion(task, r)
	}
}
