package depgraph

import "github.com/parallux/depengine/pkg/region"

// computeSatisfiability implements §4.4's three formulas. prev is the
// producer access the edge was installed against (or, during re-propagation,
// the access whose bit just changed); next is the consumer access the edge
// points at; parental reports whether the edge is a containment edge
// (prev belongs to next's parent task) rather than a sibling/"next" edge.
func computeSatisfiability(prev, next *DataAccess, parental bool) (read, write, topmost bool) {
	passThrough := prev.complete && prev.topmostOrNotExclusive()
	concurrentPair := prev.kind == Concurrent && next.kind == Concurrent
	reductionPair := sameReduction(prev, next)

	read = prev.readSatisfied && (passThrough || parental || prev.kind == Read || concurrentPair || reductionPair)
	write = prev.writeSatisfied && (passThrough || parental || concurrentPair || reductionPair)
	topmost = prev.topmostSatisfied && (prev.complete || parental)
	return read, write, topmost
}

// applySatisfiability masks newRead/newWrite/newTopmost against what acc
// already has set, applies whatever is newly true, emits the instrumentation
// event, and fires the predecessor-count/removal-countdown transitions that
// follow from those bits flipping. It is the single place both initial
// linking and later re-propagation update an access's satisfiability, per
// §4.4/§4.5.
func applySatisfiability(acc *DataAccess, newRead, newWrite, newTopmost bool, hooks *Hooks) bool {
	wasSatisfied := acc.Satisfied()

	read := newRead && !acc.readSatisfied
	write := newWrite && !acc.writeSatisfied
	topmost := newTopmost && !acc.topmostSatisfied
	if !read && !write && !topmost {
		return false
	}

	if read {
		acc.readSatisfied = true
	}
	if write {
		acc.writeSatisfied = true
	}
	if topmost {
		acc.topmostSatisfied = true
	}
	hooks.sink().Satisfied(acc.originator, acc.region, acc.readSatisfied, acc.writeSatisfied, acc.topmostSatisfied)

	task := acc.originator
	if !wasSatisfied && acc.Satisfied() && acc.strong() {
		if task.predecessorCount.Add(-1) == 0 {
			hooks.ready(task)
		}
	}
	if topmost {
		if task.accesses.addRemovalCountdown(-int64(acc.region.Length)) && task.removalBlockingCount.Load() == 0 {
			hooks.sink().Removable(task)
			hooks.removable(task)
		}
	}
	return true
}

// propagateInitialSatisfiability is the one-shot version of the formulas,
// run exactly once per installed edge at link time (§4.3's last step before
// returning from link_to_predecessors).
func propagateInitialSatisfiability(prev, next *DataAccess, parental bool, hooks *Hooks) {
	read, write, topmost := computeSatisfiability(prev, next, parental)
	applySatisfiability(next, read, write, topmost, hooks)
}

// propagationStep is a deferred recursion target collected while holding a
// task's lock, run only after that lock is released — §5's rule that no
// more than one task's accesses lock is held at a time during propagation.
type propagationStep struct {
	prev     *DataAccess
	region   region.Region
	next     *Task
	parental bool
}

// PropagateSatisfiability re-derives satisfiability for every piece of
// nextTask's accesses overlapping region after prev's bits changed (a
// producer event: an upgrade, a completion, or an earlier propagation step),
// per §4.5. It recurses into child (parental=true) and next (parental=false)
// edges of whatever pieces changed, one task lock at a time.
func PropagateSatisfiability(prev *DataAccess, affected region.Region, nextTask *Task, hooks *Hooks, parental bool) {
	if nextTask == nil {
		return
	}

	var pending []propagationStep
	nextTask.accesses.lock.Lock()
	nextTask.accesses.accesses.FragmentIntersecting(affected, dupAccess)
	nextTask.accesses.accesses.ProcessIntersecting(affected, func(_ int, e *Entry[*DataAccess]) bool {
		nacc := e.Payload
		read, write, topmost := computeSatisfiability(prev, nacc, parental)
		if !applySatisfiability(nacc, read, write, topmost, hooks) {
			return true
		}
		if nacc.hasSubaccesses {
			pending = append(pending, propagationStep{prev: nacc, region: nacc.region, next: nacc.child, parental: true})
		}
		if nacc.next != nil {
			pending = append(pending, propagationStep{prev: nacc, region: nacc.region, next: nacc.next, parental: false})
		}
		return true
	})
	nextTask.accesses.lock.Unlock()

	for _, step := range pending {
		PropagateSatisfiability(step.prev, step.region, step.next, hooks, step.parental)
	}
}
