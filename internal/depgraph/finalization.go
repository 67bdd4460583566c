package depgraph

import (
	apperrors "github.com/parallux/depengine/pkg/errors"
	"github.com/parallux/depengine/pkg/region"
)

// finalizeAccess implements §4.6's finalize_access. The caller must already
// hold task.Parent's and task's accesses locks (UnregisterTaskAccesses's
// job); any further task lock this needs (to reach descendants still
// pointing at acc from the bottom map) is acquired relative to task via the
// same lockPredecessor discipline linking uses.
func finalizeAccess(task *Task, acc *DataAccess, hooks *Hooks) error {
	if acc.complete {
		return nil
	}
	acc.complete = true

	if acc.hasSubaccesses && acc.next != nil {
		successor := acc.next

		var handedOff []*DataAccess
		var locked []*Task
		var err error
		task.accesses.bottomMap.ProcessIntersecting(acc.region, func(_ int, e *Entry[*BottomMapEntry]) bool {
			child := e.Payload.task
			lockPredecessor(task, child)
			locked = append(locked, child)

			idx, ok := child.accesses.accesses.IndexContaining(e.Region.Start)
			if !ok {
				err = apperrors.Wrap(apperrors.CodeInternalInvariant, "finalize_access: bottom map entry without matching access", nil)
				return false
			}
			idx = child.accesses.accesses.FragmentByIntersection(idx, e.Region, dupAccess)
			ca := child.accesses.accesses.EntryAt(idx).Payload
			if ca.next == nil {
				ca.next = successor
				handedOff = append(handedOff, ca)
			}
			return true
		})
		for i := len(locked) - 1; i >= 0; i-- {
			unlockPredecessor(task, locked[i])
		}
		if err != nil {
			return err
		}

		hooks.sink().Unlinked(task, successor, acc.region)
		acc.next = nil

		for _, ca := range handedOff {
			PropagateSatisfiability(ca, ca.region, successor, hooks, false)
		}
		return nil
	}

	if acc.next != nil && (acc.readSatisfied || acc.writeSatisfied) {
		PropagateSatisfiability(acc, acc.region, acc.next, hooks, false)
	}
	return nil
}

// UnregisterTaskAccesses implements §4.6's per-task finalization pass: it
// runs once, at task finish, finalizing every declared access under the
// parent-then-task lock pair, then checks whether the task itself has
// become removable.
func UnregisterTaskAccesses(task *Task, hooks *Hooks) error {
	parent := task.Parent
	if parent != nil {
		parent.accesses.lock.Lock()
	}
	task.accesses.lock.Lock()

	var err error
	for _, e := range task.accesses.accesses.Entries() {
		if ferr := finalizeAccess(task, e.Payload, hooks); ferr != nil {
			err = ferr
			break
		}
	}

	task.accesses.lock.Unlock()
	if parent != nil {
		parent.accesses.lock.Unlock()
	}
	if err != nil {
		return err
	}

	// Release the "task itself is still running" unit Task started with
	// (see NewTask's doc comment): from here on, removal_blocking_count
	// tracks only live subtasks and outstanding handle_enter_blocking
	// calls.
	stillBlocked := task.removalBlockingCount.Add(-1) != 0
	if !stillBlocked && task.accesses.removalCountdown.Load() == 0 {
		hooks.sink().Removable(task)
		hooks.removable(task)
	}
	return nil
}

// HandleTaskRemoval implements §4.6's handle_task_removal: it discards the
// task's own accesses and, in the parent, clears the has_subaccesses/child
// markers and bottom-map entries that referenced this task as a child. Each
// of the task's bottom-map regions is applied to the parent on its own;
// contiguous regions are not coalesced first.
func HandleTaskRemoval(task *Task, hooks *Hooks) error {
	parent := task.Parent

	if parent != nil {
		parent.accesses.lock.Lock()
	}
	task.accesses.lock.Lock()

	var removed []region.Region
	for _, e := range task.accesses.accesses.Entries() {
		if e.Payload.inBottomMap {
			removed = append(removed, e.Region)
		}
		hooks.sink().Removed(task, e.Region)
		releaseDataAccess(e.Payload)
	}
	task.accesses.accesses = NewContainer[*DataAccess]()
	task.accesses.lock.Unlock()

	if parent == nil {
		return nil
	}
	defer parent.accesses.lock.Unlock()

	for _, r := range removed {
		if idx, ok := parent.accesses.accesses.IndexContaining(r.Start); ok {
			idx = parent.accesses.accesses.FragmentByIntersection(idx, r, dupAccess)
			pa := parent.accesses.accesses.EntryAt(idx).Payload
			pa.hasSubaccesses = false
			pa.child = nil
		}
		if entry, ok := parent.accesses.bottomMap.Remove(r); ok {
			releaseBottomMapEntry(entry)
		}
	}

	// This task is no longer a live subtask: release the removal-blocking
	// unit it contributed to parent when it first linked beneath it (see
	// Task.liveSubtaskUnit), and report parent removable if that was its
	// last blocker.
	if task.liveSubtaskUnit.CompareAndSwap(true, false) {
		if parent.removalBlockingCount.Add(-1) == 0 && parent.accesses.removalCountdown.Load() == 0 {
			hooks.sink().Removable(parent)
			hooks.removable(parent)
		}
	}
	return nil
}
