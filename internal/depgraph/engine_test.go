package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallux/depengine/pkg/region"
)

// trackingHooks records every ready/removable transition for assertions,
// alongside a NopSink (the scenarios below don't inspect instrumentation
// events, only the satisfiability/readiness state machine).
func trackingHooks() (*Hooks, *[]string, *[]string) {
	ready := &[]string{}
	removable := &[]string{}
	h := &Hooks{
		Sink: NopSink{},
		OnReady: func(t *Task) {
			*ready = append(*ready, t.Label)
		},
		OnRemovable: func(t *Task) {
			*removable = append(*removable, t.Label)
		},
	}
	return h, ready, removable
}

func mustRegister(t *testing.T, task *Task, kind AccessKind, r region.Region) {
	t.Helper()
	require.NoError(t, RegisterTaskAccess(task, kind, false, r, "", nil))
}

// TestScenario_S1_RAW: write-then-read across siblings must not satisfy the
// reader until the writer finalizes.
func TestScenario_S1_RAW(t *testing.T) {
	hooks, ready, removable := trackingHooks()
	parent := NewTask("parent", nil)

	a := NewTask("A", parent)
	mustRegister(t, a, Write, region.New(0, 1024))
	require.NoError(t, LinkTaskAccesses(a, hooks))
	assert.Contains(t, *ready, "A")

	b := NewTask("B", parent)
	mustRegister(t, b, Read, region.New(0, 1024))
	require.NoError(t, LinkTaskAccesses(b, hooks))
	assert.NotContains(t, *ready, "B")

	bAccess := b.accesses.accesses.Entries()[0].Payload
	assert.False(t, bAccess.Satisfied())

	require.NoError(t, UnregisterTaskAccesses(a, hooks))
	assert.Contains(t, *removable, "A")

	assert.True(t, bAccess.Satisfied())
	assert.Contains(t, *ready, "B")
}

// TestScenario_S2_WARFragmentation: B's [256,768) access splits at 512; the
// [256,512) piece links behind A, the [512,768) piece is a local miss.
func TestScenario_S2_WARFragmentation(t *testing.T) {
	hooks, ready, _ := trackingHooks()
	parent := NewTask("parent", nil)

	a := NewTask("A", parent)
	mustRegister(t, a, Write, region.FromBounds(0, 512))
	require.NoError(t, LinkTaskAccesses(a, hooks))

	b := NewTask("B", parent)
	mustRegister(t, b, Read, region.FromBounds(256, 768))
	require.NoError(t, LinkTaskAccesses(b, hooks))

	entries := b.accesses.accesses.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, region.FromBounds(256, 512), entries[0].Region)
	assert.False(t, entries[0].Payload.Satisfied())
	assert.Equal(t, region.FromBounds(512, 768), entries[1].Region)
	assert.True(t, entries[1].Payload.Satisfied())

	assert.NotContains(t, *ready, "B")
	require.NoError(t, UnregisterTaskAccesses(a, hooks))
	assert.True(t, entries[0].Payload.Satisfied())
	assert.Contains(t, *ready, "B")
}

// TestScenario_S3_ConcurrentGroup: three siblings declaring Concurrent over
// the same region all become satisfied immediately and none blocks another.
func TestScenario_S3_ConcurrentGroup(t *testing.T) {
	hooks, ready, _ := trackingHooks()
	parent := NewTask("parent", nil)

	var tasks []*Task
	for _, label := range []string{"A", "B", "C"} {
		task := NewTask(label, parent)
		mustRegister(t, task, Concurrent, region.New(0, 64))
		require.NoError(t, LinkTaskAccesses(task, hooks))
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		assert.Truef(t, task.accesses.accesses.Entries()[0].Payload.Satisfied(), "%s should be satisfied", task.Label)
		assert.Contains(t, *ready, task.Label)
	}
}

// TestScenario_S5_NestedParent: a grandchild linked beneath a child keeps
// that child removable-blocked after the child completes, until the
// grandchild itself finishes, is reclaimed, and the child's bottom map drains.
func TestScenario_S5_NestedParent(t *testing.T) {
	hooks, _, removable := trackingHooks()
	top := NewTask("top", nil)

	x := NewTask("X", top)
	mustRegister(t, x, ReadWrite, region.New(0, 256))
	require.NoError(t, LinkTaskAccesses(x, hooks))

	y := NewTask("Y", x)
	mustRegister(t, y, Read, region.FromBounds(64, 192))
	require.NoError(t, LinkTaskAccesses(y, hooks))
	assert.True(t, y.accesses.accesses.Entries()[0].Payload.hasSubaccesses == false)

	// X finishes first: its own access becomes complete, but Y is still a
	// live subtask holding part of X's bottom map, so X is not yet
	// removable.
	require.NoError(t, UnregisterTaskAccesses(x, hooks))
	assert.NotContains(t, *removable, "X")

	// X's child bottom map still holds Y's claim over [64,192).
	assert.Equal(t, 1, x.accesses.bottomMap.Len())

	require.NoError(t, UnregisterTaskAccesses(y, hooks))
	require.NoError(t, HandleTaskRemoval(y, hooks))

	assert.Equal(t, 0, x.accesses.bottomMap.Len())
	// Only once Y is fully reclaimed does X's live-subtask unit release,
	// making X removable.
	assert.Contains(t, *removable, "X")
}

// TestScenario_S4_ReductionFanIn: independent reduction accesses over the
// same region combine without blocking each other.
func TestScenario_S4_ReductionFanIn(t *testing.T) {
	hooks, ready, _ := trackingHooks()
	parent := NewTask("parent", nil)

	var tasks []*Task
	for i := 0; i < 8; i++ {
		task := NewTask("A", parent)
		require.NoError(t, RegisterTaskAccess(task, Reduction, false, region.New(0, 64), "sum", nil))
		require.NoError(t, LinkTaskAccesses(task, hooks))
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		assert.True(t, task.accesses.accesses.Entries()[0].Payload.Satisfied())
	}
	assert.Len(t, *ready, 8)
}

// TestScenario_S6_ContiguousUnionRemoval: two adjacent, independently
// declared accesses of the same task both become removable in the same
// finalize; the parent's bottom map ends up with neither entry regardless
// of whether the reclaim path coalesces them into one region first.
func TestScenario_S6_ContiguousUnionRemoval(t *testing.T) {
	hooks, _, removable := trackingHooks()
	parent := NewTask("parent", nil)

	child := NewTask("child", parent)
	mustRegister(t, child, Write, region.FromBounds(0, 64))
	mustRegister(t, child, Write, region.FromBounds(64, 128))
	require.NoError(t, LinkTaskAccesses(child, hooks))

	entries := child.accesses.accesses.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Payload.Satisfied())
	assert.True(t, entries[1].Payload.Satisfied())

	require.Equal(t, 2, parent.accesses.bottomMap.Len())

	require.NoError(t, UnregisterTaskAccesses(child, hooks))
	assert.Contains(t, *removable, "child")

	require.NoError(t, HandleTaskRemoval(child, hooks))
	assert.Equal(t, 0, parent.accesses.bottomMap.Len())
	assert.Equal(t, 0, child.accesses.accesses.Len())
}

func TestEngine_RegisterTaskAccesses_ReadyReflectsPredecessorCount(t *testing.T) {
	hooks, _, _ := trackingHooks()
	engine := NewEngine(hooks)
	parent := NewTask("parent", nil)

	a := NewTask("A", parent)
	readyA, err := engine.RegisterTaskAccesses(a, func(task *Task) error {
		return RegisterTaskAccess(task, Write, false, region.New(0, 64), "", nil)
	})
	require.NoError(t, err)
	assert.True(t, readyA)

	b := NewTask("B", parent)
	readyB, err := engine.RegisterTaskAccesses(b, func(task *Task) error {
		return RegisterTaskAccess(task, Read, false, region.New(0, 64), "", nil)
	})
	require.NoError(t, err)
	assert.False(t, readyB)

	require.NoError(t, engine.UnregisterTaskAccesses(a))
	assert.Equal(t, int64(0), b.PredecessorCount())
}

func TestEngine_HandleEnterExitBlocking(t *testing.T) {
	hooks, _, removable := trackingHooks()
	engine := NewEngine(hooks)
	task := NewTask("t", nil)
	engine.HandleEnterBlocking(task)
	mustRegister(t, task, Write, region.New(0, 64))
	require.NoError(t, LinkTaskAccesses(task, hooks))

	require.NoError(t, UnregisterTaskAccesses(task, hooks))
	assert.NotContains(t, *removable, "t")

	engine.HandleExitBlocking(task)
	assert.Contains(t, *removable, "t")
}
