package depgraph

import (
	apperrors "github.com/parallux/depengine/pkg/errors"
	"github.com/parallux/depengine/pkg/region"
)

// RegisterTaskAccess implements §4.2: adds or upgrades an access on a
// pre-link task. It never links, never propagates, and never touches any
// other task's accesses. reductionOp is ignored unless kind == Reduction.
func RegisterTaskAccess(task *Task, kind AccessKind, weak bool, r region.Region, reductionOp string, sink InstrumentationSink) error {
	if r.Empty() {
		return apperrors.Wrap(apperrors.CodeInvalidRegion, "register_task_access: empty region", nil)
	}
	if sink == nil {
		sink = NopSink{}
	}

	task.accesses.lock.Lock()
	defer task.accesses.lock.Unlock()

	type pendingGap struct {
		region region.Region
	}
	var gaps []pendingGap
	var upgradeErr error

	task.accesses.accesses.ProcessIntersectingAndMissing(
		r,
		dupAccess,
		func(_ int, e *Entry[*DataAccess]) bool {
			newKind, newWeak, changed, err := upgrade(e.Payload.kind, e.Payload.weak, kind, weak)
			if err != nil {
				upgradeErr = err
				return false
			}
			if changed {
				oldKind := e.Payload.kind
				e.Payload.kind = newKind
				e.Payload.weak = newWeak
				sink.Upgraded(task, e.Region, oldKind, newKind)
			}
			return true
		},
		func(gap region.Region) bool {
			gaps = append(gaps, pendingGap{region: gap})
			return true
		},
	)
	if upgradeErr != nil {
		return upgradeErr
	}

	for _, g := range gaps {
		a := newDataAccess(task, g.region, kind, weak, reductionOp)
		sink.CreatedAccess(task, kind, g.region)
		task.accesses.accesses.Insert(g.region, a)
		task.accesses.removalCountdown.Add(int64(g.region.Length))
	}
	return nil
}

// upgrade implements §3's upgrade rule: combining any access with
// Concurrent or Reduction is fatal; otherwise the kinds merge to ReadWrite
// unless identical, and weakness is the conjunction of both sides.
func upgrade(oldKind AccessKind, oldWeak bool, incomingKind AccessKind, incomingWeak bool) (newKind AccessKind, newWeak bool, changed bool, err error) {
	if oldKind.exclusive() || incomingKind.exclusive() {
		return oldKind, oldWeak, false, apperrors.Wrap(
			apperrors.CodeIncompatibleAccess,
			"cannot combine "+oldKind.String()+" access with "+incomingKind.String()+" access on the same region",
			nil,
		)
	}

	newWeak = oldWeak && incomingWeak
	if oldKind == incomingKind {
		newKind = oldKind
	} else {
		newKind = ReadWrite
	}
	changed = newKind != oldKind || newWeak != oldWeak
	return newKind, newWeak, changed, nil
}
