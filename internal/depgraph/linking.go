package depgraph

import (
	apperrors "github.com/parallux/depengine/pkg/errors"
	"github.com/parallux/depengine/pkg/region"
)

// producerPiece names the task and access that currently, genuinely produce
// a sub-region — the leaf found after following any number of "prev_task is
// already done but has live children" recursions.
type producerPiece struct {
	region region.Region
	task   *Task
	access *DataAccess
}

// lockPredecessor acquires cand's accesses lock relative to task's, per
// §4.3's lock-pair discipline: try a non-blocking probe first; only release
// task's own lock and pay for the blocking acquisition if the probe fails.
// task's lock is the only one ever released here — parent's lock, held by
// the outer caller for the whole walk, is never touched.
func lockPredecessor(task, cand *Task) {
	if cand == task {
		return
	}
	if !cand.accesses.lock.TryLock() {
		task.accesses.lock.Unlock()
		cand.accesses.lock.Lock()
		task.accesses.lock.Lock()
	}
}

func unlockPredecessor(task, cand *Task) {
	if cand == task {
		return
	}
	cand.accesses.lock.Unlock()
}

// LinkTaskAccesses implements §4.3's link_task_accesses: it runs exactly
// once per task, after every access has been declared via
// RegisterTaskAccess and before the task is handed to a scheduler. It
// installs every predecessor edge the task's footprint implies and performs
// the initial satisfiability propagation across each one.
func LinkTaskAccesses(task *Task, hooks *Hooks) error {
	if task.accesses.accesses.Len() == 0 {
		return nil
	}
	// A pessimistic removal_countdown/predecessor_count guard against the
	// task appearing finished before linking itself completes is
	// unnecessary here: both the parent's and the task's own accesses
	// locks are held for the whole walk below, and PropagateSatisfiability
	// cannot reach an unlinked task's accesses without acquiring that same
	// task lock first. See DESIGN.md's "double-increment guard" note.
	parent := task.Parent
	if parent == nil {
		return linkRootTaskAccesses(task, hooks)
	}

	parent.accesses.lock.Lock()
	task.accesses.lock.Lock()
	defer task.accesses.lock.Unlock()
	defer parent.accesses.lock.Unlock()

	declared := make([]region.Region, 0, task.accesses.accesses.Len())
	for _, e := range task.accesses.accesses.Entries() {
		e.Payload.inBottomMap = true
		e.Payload.reachable = true
		declared = append(declared, e.Region)
	}

	for _, r := range declared {
		if err := linkAccessRegion(task, parent, r, hooks); err != nil {
			return err
		}
	}
	return nil
}

// linkRootTaskAccesses handles a task with no parent: there is no bottom map
// to consult, so every declared access is local from the start.
func linkRootTaskAccesses(task *Task, hooks *Hooks) error {
	task.accesses.lock.Lock()
	defer task.accesses.lock.Unlock()

	for _, e := range task.accesses.accesses.Entries() {
		a := e.Payload
		a.inBottomMap = true
		a.reachable = true
		satisfyLocally(task, a, hooks)
	}
	return nil
}

// satisfyLocally marks a as immediately satisfied with no predecessor, the
// Miss outcome of §4.3 step 4.iv. The predecessor-count unit is raised and
// immediately released through the ordinary applySatisfiability path so the
// accounting matches the Hit path exactly.
func satisfyLocally(task *Task, a *DataAccess, hooks *Hooks) {
	if a.strong() {
		task.predecessorCount.Add(1)
	}
	applySatisfiability(a, true, true, true, hooks)
}

// linkAccessRegion resolves one of task's declared top-level accesses
// (region r) against parent's subaccess bottom map: every subregion is
// either a Hit (some task already owns it, possibly several levels down)
// or a Miss (nobody does, so task's claim is immediately satisfied).
// Afterwards, parent's bottom map reflects task's new ownership over the
// whole of r.
func linkAccessRegion(task, parent *Task, r region.Region, hooks *Hooks) error {
	var firstErr error
	var misses []region.Region

	parent.accesses.bottomMap.ProcessIntersectingAndMissing(
		r,
		dupBottomMapEntry,
		func(_ int, e *Entry[*BottomMapEntry]) bool {
			sub := e.Region
			prevTask := e.Payload.task

			var producers []producerPiece
			var locked []*Task
			err := collectRealProducers(task, parent, prevTask, sub, hooks, &producers, &locked)
			if err == nil {
				for _, p := range producers {
					if ierr := installEdge(task, parent, p, hooks); ierr != nil {
						err = ierr
						break
					}
				}
			}
			for i := len(locked) - 1; i >= 0; i-- {
				unlockPredecessor(task, locked[i])
			}
			if err != nil {
				firstErr = err
				return false
			}

			// This bottom-map slot now belongs to task; the local flag
			// propagates from whichever entry it replaces.
			e.Payload.task = task
			return true
		},
		func(gap region.Region) bool {
			misses = append(misses, gap)
			return true
		},
	)
	if firstErr != nil {
		return firstErr
	}

	for _, gap := range misses {
		// A Miss in parent's bottom map means no *other child* has claimed
		// this subregion yet — not that there is no predecessor at all.
		// If parent itself declared an access over the gap, that access is
		// the genuine (parental) predecessor, and task becomes its first
		// child. Only when parent has no access here either (a true root,
		// or a subregion parent never declared) is task's claim actually
		// unpredecessed.
		if idx, ok := parent.accesses.accesses.IndexContaining(gap.Start); ok {
			idx = parent.accesses.accesses.FragmentByIntersection(idx, gap, dupAccess)
			parentAccess := parent.accesses.accesses.EntryAt(idx).Payload
			if err := installEdge(task, parent, producerPiece{region: gap, task: parent, access: parentAccess}, hooks); err != nil {
				return err
			}
		} else {
			idx, ok := task.accesses.accesses.IndexContaining(gap.Start)
			if !ok {
				return apperrors.Wrap(apperrors.CodeInternalInvariant, "link_task_accesses: declared region missing for local gap", nil)
			}
			idx = task.accesses.accesses.FragmentByIntersection(idx, gap, dupAccess)
			piece := task.accesses.accesses.EntryAt(idx).Payload
			satisfyLocally(task, piece, hooks)
		}
		parent.accesses.bottomMap.Insert(gap, newBottomMapEntry(gap, task, true))
	}
	return nil
}

// collectRealProducers finds the genuine current owner(s) of sub, starting
// from candidate (the task owningParent's bottom map named for that
// subregion). If candidate has already finished but still has live
// subaccesses, the real producers are among its children, so this recurses
// into candidate's own bottom map instead of linking against candidate
// directly — §4.3's "recurse downward" branch. Any portion of sub that none
// of candidate's children reclaimed is still genuinely produced by
// candidate itself.
//
// Every task lock this function acquires (relative to task's own, via
// lockPredecessor) is appended to locked so the caller can release them,
// in reverse order, only after it has finished using the returned accesses.
func collectRealProducers(task, owningParent, candidate *Task, sub region.Region, hooks *Hooks, out *[]producerPiece, locked *[]*Task) error {
	lockPredecessor(task, candidate)
	*locked = append(*locked, candidate)

	idx, ok := candidate.accesses.accesses.IndexContaining(sub.Start)
	if !ok {
		return apperrors.Wrap(apperrors.CodeInternalInvariant, "link_task_accesses: bottom map entry without matching access", nil)
	}
	idx = candidate.accesses.accesses.FragmentByIntersection(idx, sub, dupAccess)
	cAccess := candidate.accesses.accesses.EntryAt(idx).Payload

	if candidate != owningParent && cAccess.hasSubaccesses && cAccess.complete {
		var innerErr error
		var misses []region.Region
		candidate.accesses.bottomMap.ProcessIntersectingAndMissing(
			sub,
			dupBottomMapEntry,
			func(_ int, e *Entry[*BottomMapEntry]) bool {
				if err := collectRealProducers(task, candidate, e.Payload.task, e.Region, hooks, out, locked); err != nil {
					innerErr = err
					return false
				}
				return true
			},
			func(gap region.Region) bool {
				misses = append(misses, gap)
				return true
			},
		)
		if innerErr != nil {
			return innerErr
		}
		for _, gap := range misses {
			gIdx, ok := candidate.accesses.accesses.IndexContaining(gap.Start)
			if !ok {
				return apperrors.Wrap(apperrors.CodeInternalInvariant, "link_task_accesses: completed task missing access under its own gap", nil)
			}
			gIdx = candidate.accesses.accesses.FragmentByIntersection(gIdx, gap, dupAccess)
			*out = append(*out, producerPiece{region: gap, task: candidate, access: candidate.accesses.accesses.EntryAt(gIdx).Payload})
		}
		return nil
	}

	*out = append(*out, producerPiece{region: sub, task: candidate, access: cAccess})
	return nil
}

// installEdge links task's own piece covering p.region behind the genuine
// producer p, and runs the one-shot initial satisfiability propagation for
// that edge. The caller must still hold p.task's accesses lock.
func installEdge(task, parent *Task, p producerPiece, hooks *Hooks) error {
	idx, ok := task.accesses.accesses.IndexContaining(p.region.Start)
	if !ok {
		return apperrors.Wrap(apperrors.CodeInternalInvariant, "link_task_accesses: declared region missing for hit", nil)
	}
	idx = task.accesses.accesses.FragmentByIntersection(idx, p.region, dupAccess)
	piece := task.accesses.accesses.EntryAt(idx).Payload

	parental := p.task == parent
	if parental {
		p.access.child = task
		p.access.hasSubaccesses = true
		if task.liveSubtaskUnit.CompareAndSwap(false, true) {
			parent.removalBlockingCount.Add(1)
		}
	} else {
		p.access.next = task
		if p.task.Parent == parent {
			p.access.inBottomMap = false
		}
	}
	hooks.sink().Linked(p.task, task, p.region)

	if piece.strong() {
		task.predecessorCount.Add(1)
	}
	propagateInitialSatisfiability(p.access, piece, parental, hooks)
	return nil
}
