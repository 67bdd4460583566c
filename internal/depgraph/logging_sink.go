package depgraph

import (
	"github.com/parallux/depengine/pkg/region"
	"github.com/parallux/depengine/pkg/utils"
)

// LoggingSink emits every instrumentation event at Debug level through the
// ambient utils.Logger. It is not installed by default (an Engine built with
// nil Hooks uses NopSink); callers wire it in through Hooks.Sink, as
// cmd/depengine serve does. A caller who wants silence can pass
// utils.NullLogger via NewLoggingSink.
type LoggingSink struct {
	log utils.Logger
}

// NewLoggingSink builds a sink writing through log.
func NewLoggingSink(log utils.Logger) *LoggingSink {
	return &LoggingSink{log: log}
}

func (s *LoggingSink) CreatedAccess(task *Task, kind AccessKind, r region.Region) {
	s.log.Debug("created_access task=%s kind=%s region=%s", task.Label, kind, r)
}

func (s *LoggingSink) Upgraded(task *Task, r region.Region, oldKind, newKind AccessKind) {
	s.log.Debug("upgraded task=%s region=%s %s->%s", task.Label, r, oldKind, newKind)
}

func (s *LoggingSink) Linked(prev, next *Task, r region.Region) {
	s.log.Debug("linked prev=%s next=%s region=%s", prev.Label, next.Label, r)
}

func (s *LoggingSink) Unlinked(prev, next *Task, r region.Region) {
	s.log.Debug("unlinked prev=%s next=%s region=%s", prev.Label, next.Label, r)
}

func (s *LoggingSink) Satisfied(task *Task, r region.Region, read, write, topmost bool) {
	s.log.Debug("satisfied task=%s region=%s read=%t write=%t topmost=%t", task.Label, r, read, write, topmost)
}

func (s *LoggingSink) Removable(task *Task) {
	s.log.Debug("removable task=%s", task.Label)
}

func (s *LoggingSink) Removed(task *Task, r region.Region) {
	s.log.Debug("removed task=%s region=%s", task.Label, r)
}

func (s *LoggingSink) Fragmented(task *Task, original, into region.Region) {
	s.log.Debug("fragmented task=%s original=%s into=%s", task.Label, original, into)
}

func (s *LoggingSink) ModifiedRegion(task *Task, r region.Region) {
	s.log.Debug("modified_region task=%s region=%s", task.Label, r)
}
