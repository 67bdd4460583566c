package depgraph

import (
	"sync"
	"sync/atomic"
)

// spinlock is a mutex with a non-blocking probe. The original dependency
// engine spins a userspace lock here; Go has no such primitive, and
// busy-waiting against the M:N goroutine scheduler can starve the very
// goroutine holding the lock from ever being rescheduled. This wraps
// sync.Mutex and exposes TryLock for the one place (§4.3's lock-pair
// discipline) that needs a non-blocking attempt rather than a plain Lock.
type spinlock struct {
	mu sync.Mutex
}

func (s *spinlock) Lock()          { s.mu.Lock() }
func (s *spinlock) Unlock()        { s.mu.Unlock() }
func (s *spinlock) TryLock() bool  { return s.mu.TryLock() }

// TaskDataAccesses is the per-task collection described in §3: the task's
// declared accesses, its bottom map of live child subaccesses (meaningful
// only when the task is acting as a parent), the lock ordering mutation of
// both, and the byte-weighted removal countdown.
type TaskDataAccesses struct {
	lock spinlock

	accesses  *Container[*DataAccess]
	bottomMap *Container[*BottomMapEntry]

	removalCountdown atomic.Int64
}

func newTaskDataAccesses() *TaskDataAccesses {
	return &TaskDataAccesses{
		accesses:  NewContainer[*DataAccess](),
		bottomMap: NewContainer[*BottomMapEntry](),
	}
}

// addRemovalCountdown adds delta to the countdown and reports whether this
// call drove it to exactly zero. delta may be negative; the counter must
// never go negative, which would indicate a double-decrement bug.
func (d *TaskDataAccesses) addRemovalCountdown(delta int64) bool {
	return d.removalCountdown.Add(delta) == 0
}

// Task is the externally-defined unit of work the dependency engine
// schedules. Only the fields the engine itself needs are modeled here; a
// real runtime would attach the user's callable and its arguments alongside
// these.
type Task struct {
	Label  string
	Parent *Task

	accesses *TaskDataAccesses

	// predecessorCount is non-zero iff some strong access is unsatisfied.
	predecessorCount atomic.Int64
	// removalBlockingCount is non-zero iff some access is not yet removable
	// or the task has live subtasks. Starts at 1 to represent "the task
	// itself is still running"; RegisterTaskAccesses does not touch it,
	// UnregisterTaskAccesses releases that initial unit after finalizing
	// every access. A child contributes one further unit to its parent's
	// count for as long as it counts as a live subtask — see
	// liveSubtaskUnit.
	removalBlockingCount atomic.Int64

	// liveSubtaskUnit reports whether this task currently holds the single
	// removal-blocking unit it contributes to Parent.removalBlockingCount.
	// installEdge sets it (via compare-and-swap, so a task with several
	// accesses linked parentally under the same parent only ever
	// contributes once) the first time this task links as a child of
	// Parent; HandleTaskRemoval clears it and releases the unit when this
	// task itself is reclaimed.
	liveSubtaskUnit atomic.Bool

	// blockingDepth tracks handle_enter_blocking/handle_exit_blocking calls
	// (§14 supplement): parked-on-mutex/taskwait time also blocks removal.
	blockingDepth atomic.Int64
}

// NewTask creates a task with no declared accesses yet. parent may be nil
// for a top-level task.
func NewTask(label string, parent *Task) *Task {
	t := &Task{
		Label:    label,
		Parent:   parent,
		accesses: newTaskDataAccesses(),
	}
	t.removalBlockingCount.Store(1)
	return t
}

// PredecessorCount returns the current strong-predecessor count. Exposed
// for tests and instrumentation; not part of the collaborator surface.
func (t *Task) PredecessorCount() int64 {
	return t.predecessorCount.Load()
}

// RemovalBlockingCount returns the current removal-blocking count.
func (t *Task) RemovalBlockingCount() int64 {
	return t.removalBlockingCount.Load()
}

