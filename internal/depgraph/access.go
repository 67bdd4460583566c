package depgraph

import (
	"fmt"

	"github.com/parallux/depengine/pkg/collections"
	"github.com/parallux/depengine/pkg/region"
)

// AccessKind classifies the kind of claim a task's DataAccess places over a
// region. Concurrent and Reduction never combine with any other kind on the
// same region within a single task — doing so is a fatal user-program error
// (errors.CodeIncompatibleAccess).
type AccessKind int

const (
	Read AccessKind = iota
	Write
	ReadWrite
	Concurrent
	Reduction
)

func (k AccessKind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	case Concurrent:
		return "concurrent"
	case Reduction:
		return "reduction"
	default:
		return fmt.Sprintf("AccessKind(%d)", int(k))
	}
}

// exclusive reports whether the kind participates in the
// Concurrent/Reduction exclusivity rule of the initial-satisfiability
// formulas (§4.4's topmost_or_not_exclusive).
func (k AccessKind) exclusive() bool {
	return k == Concurrent || k == Reduction
}

// DataAccess is one record per contiguous region, per originator task. It is
// always referenced by pointer: its identity is meaningful (the "next"/
// "child" edges, the bottom map, and the container all alias the same
// object), never copied by value.
type DataAccess struct {
	originator  *Task
	region      region.Region
	kind        AccessKind
	weak        bool
	reductionOp string

	readSatisfied    bool
	writeSatisfied   bool
	topmostSatisfied bool
	complete         bool
	hasSubaccesses   bool
	inBottomMap      bool
	reachable        bool // debug-only: set once link_task_accesses has processed this access

	next  *Task
	child *Task
}

// dataAccessPool recycles the DataAccess records a task's lifetime churns
// through. Only the primary allocation path (newDataAccess) and the
// HandleTaskRemoval discard point draw from and return to it; the
// fragmentation dup path (dupAccess) is left allocating directly, since its
// clones can end up handed off across tasks and locks in ways that make a
// single safe reclaim point harder to pin down.
var dataAccessPool = collections.NewObjectPool[DataAccess](func(a *DataAccess) {
	*a = DataAccess{}
})

// newDataAccess builds an access with every status bit false, per §4.2 step 3.
func newDataAccess(originator *Task, r region.Region, kind AccessKind, weak bool, reductionOp string) *DataAccess {
	a := dataAccessPool.Get()
	a.originator = originator
	a.region = r
	a.kind = kind
	a.weak = weak
	a.reductionOp = reductionOp
	return a
}

// releaseDataAccess returns a DataAccess discarded by HandleTaskRemoval to
// the pool. Callers must guarantee nothing else still references a.
func releaseDataAccess(a *DataAccess) {
	dataAccessPool.Put(a)
}

// dupAccess shallow-copies a for the Container's fragmentation dup callback.
// Status bits, edges, and kind/weak/reductionOp are copied verbatim:
// fragmentation never changes what has already been observed about an
// access, only the region it covers (which the container sets afterwards
// via setRegion).
func dupAccess(a *DataAccess) *DataAccess {
	clone := *a
	return &clone
}

// setRegion implements Regioned. Region is mutated only by fragmentation,
// per §3.
func (a *DataAccess) setRegion(r region.Region) {
	a.region = r
}

// Satisfied reports read_satisfied ∧ write_satisfied.
func (a *DataAccess) Satisfied() bool {
	return a.readSatisfied && a.writeSatisfied
}

// Removable reports topmost_satisfied ∧ complete.
func (a *DataAccess) Removable() bool {
	return a.topmostSatisfied && a.complete
}

// strong reports whether the access can block its originator's readiness.
// Weak accesses declare intent without gating predecessor_count.
func (a *DataAccess) strong() bool {
	return !a.weak
}

// topmostOrNotExclusive implements §4.4's
// topmost_or_not_exclusive(prev) = prev.kind ∉ {Concurrent, Reduction} ∨ topmost_sat(prev).
func (a *DataAccess) topmostOrNotExclusive() bool {
	return !a.kind.exclusive() || a.topmostSatisfied
}

func sameReduction(prev, next *DataAccess) bool {
	return prev.kind == Reduction && next.kind == Reduction && prev.reductionOp == next.reductionOp
}

// BottomMapEntry records which child task currently owns a subregion of a
// parent's declared footprint.
type BottomMapEntry struct {
	region region.Region
	task   *Task
	local  bool
}

// bottomMapEntryPool mirrors dataAccessPool for BottomMapEntry: only
// newBottomMapEntry and the HandleTaskRemoval reclaim point participate.
var bottomMapEntryPool = collections.NewObjectPool[BottomMapEntry](func(e *BottomMapEntry) {
	*e = BottomMapEntry{}
})

func newBottomMapEntry(r region.Region, task *Task, local bool) *BottomMapEntry {
	e := bottomMapEntryPool.Get()
	e.region = r
	e.task = task
	e.local = local
	return e
}

// releaseBottomMapEntry returns a BottomMapEntry discarded by
// HandleTaskRemoval to the pool.
func releaseBottomMapEntry(e *BottomMapEntry) {
	bottomMapEntryPool.Put(e)
}

func dupBottomMapEntry(e *BottomMapEntry) *BottomMapEntry {
	clone := *e
	return &clone
}

// setRegion implements Regioned.
func (e *BottomMapEntry) setRegion(r region.Region) {
	e.region = r
}
