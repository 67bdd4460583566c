package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/parallux/depengine/pkg/errors"
	"github.com/parallux/depengine/pkg/region"
)

type capturingSink struct {
	NopSink
	created  []region.Region
	upgraded []region.Region
}

func (s *capturingSink) CreatedAccess(_ *Task, _ AccessKind, r region.Region) {
	s.created = append(s.created, r)
}

func (s *capturingSink) Upgraded(_ *Task, r region.Region, _, _ AccessKind) {
	s.upgraded = append(s.upgraded, r)
}

func TestRegisterTaskAccess_FirstRegistrationCreatesOneAccess(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	err := RegisterTaskAccess(task, Write, false, region.New(0, 64), "", sink)
	require.NoError(t, err)

	require.Equal(t, 1, task.accesses.accesses.Len())
	entry := task.accesses.accesses.Entries()[0]
	assert.Equal(t, Write, entry.Payload.kind)
	assert.Equal(t, region.New(0, 64), entry.Region)
	assert.Equal(t, int64(64), task.accesses.removalCountdown.Load())
	assert.Len(t, sink.created, 1)
}

func TestRegisterTaskAccess_UpgradeToReadWrite(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Read, false, region.New(0, 64), "", sink))
	require.NoError(t, RegisterTaskAccess(task, Write, false, region.New(0, 64), "", sink))

	require.Equal(t, 1, task.accesses.accesses.Len())
	entry := task.accesses.accesses.Entries()[0]
	assert.Equal(t, ReadWrite, entry.Payload.kind)
	assert.Len(t, sink.upgraded, 1)
	// removal_countdown only incremented once, at first creation.
	assert.Equal(t, int64(64), task.accesses.removalCountdown.Load())
}

func TestRegisterTaskAccess_SameKindTwiceIsIdempotent(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Read, false, region.New(0, 64), "", sink))
	require.NoError(t, RegisterTaskAccess(task, Read, false, region.New(0, 64), "", sink))

	entry := task.accesses.accesses.Entries()[0]
	assert.Equal(t, Read, entry.Payload.kind)
	assert.Empty(t, sink.upgraded)
}

func TestRegisterTaskAccess_WeaknessConjunction(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Read, true, region.New(0, 64), "", sink))
	require.NoError(t, RegisterTaskAccess(task, Read, false, region.New(0, 64), "", sink))

	entry := task.accesses.accesses.Entries()[0]
	assert.False(t, entry.Payload.weak)
	assert.Len(t, sink.upgraded, 1)
}

func TestRegisterTaskAccess_ConcurrentCombinedWithConcurrentIsFatal(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Concurrent, false, region.New(0, 64), "", sink))
	err := RegisterTaskAccess(task, Concurrent, false, region.New(0, 64), "", sink)

	require.Error(t, err)
	assert.True(t, apperrors.IsIncompatibleAccess(err))
}

func TestRegisterTaskAccess_ConcurrentCombinedWithOtherIsFatal(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Concurrent, false, region.New(0, 64), "", sink))
	err := RegisterTaskAccess(task, Write, false, region.New(0, 64), "", sink)

	require.Error(t, err)
	assert.True(t, apperrors.IsIncompatibleAccess(err))
}

func TestRegisterTaskAccess_ReductionCombinedWithReductionIsFatal(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Reduction, false, region.New(0, 64), "sum", sink))
	err := RegisterTaskAccess(task, Reduction, false, region.New(0, 64), "sum", sink)

	require.Error(t, err)
	assert.True(t, apperrors.IsIncompatibleAccess(err))
}

func TestRegisterTaskAccess_Fragmentation(t *testing.T) {
	task := NewTask("t", nil)
	sink := &capturingSink{}

	require.NoError(t, RegisterTaskAccess(task, Write, false, region.New(0, 512), "", sink))
	require.NoError(t, RegisterTaskAccess(task, Read, false, region.FromBounds(256, 768), "", sink))

	entries := task.accesses.accesses.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, region.FromBounds(0, 256), entries[0].Region)
	assert.Equal(t, Write, entries[0].Payload.kind)
	assert.Equal(t, region.FromBounds(256, 512), entries[1].Region)
	assert.Equal(t, ReadWrite, entries[1].Payload.kind)
	assert.Equal(t, region.FromBounds(512, 768), entries[2].Region)
	assert.Equal(t, Read, entries[2].Payload.kind)
}

func TestRegisterTaskAccess_EmptyRegionRejected(t *testing.T) {
	task := NewTask("t", nil)
	err := RegisterTaskAccess(task, Read, false, region.New(0, 0), "", nil)
	require.Error(t, err)
}
