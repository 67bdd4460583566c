package journal

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallux/depengine/internal/depgraph"
	"github.com/parallux/depengine/pkg/config"
	"github.com/parallux/depengine/pkg/region"
	"github.com/parallux/depengine/pkg/utils"
)

func TestNewGormDB_Sqlite(t *testing.T) {
	db, err := NewGormDB(&config.JournalConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.True(t, db.Migrator().HasTable(&EventRecord{}))
}

func TestNewGormDB_UnsupportedDriver(t *testing.T) {
	_, err := NewGormDB(&config.JournalConfig{Driver: "oracle"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported journal driver")
}

func TestJournal_PersistsEvents(t *testing.T) {
	db, err := NewGormDB(&config.JournalConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)

	logger := utils.NewDefaultLogger(utils.LevelDebug, io.Discard)
	j := New(db, 2, 20*time.Millisecond, logger)

	task := depgraph.NewTask("t1", nil)
	r := region.New(0, 64)

	j.CreatedAccess(task, depgraph.Write, r)
	j.Satisfied(task, r, true, true, true)
	j.Removable(task)

	require.NoError(t, j.Close())

	var count int64
	require.NoError(t, db.Model(&EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var removable EventRecord
	require.NoError(t, db.Where("event_type = ?", "removable").First(&removable).Error)
	assert.Equal(t, "t1", removable.TaskLabel)
}

func TestJournal_DropsEventsWhenQueueFull(t *testing.T) {
	db, err := NewGormDB(&config.JournalConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)

	logger := utils.NewDefaultLogger(utils.LevelDebug, io.Discard)
	j := &Journal{db: db, logger: logger, batchSize: 1, events: make(chan EventRecord), stopCh: make(chan struct{})}

	task := depgraph.NewTask("overflow", nil)
	// No reader is draining j.events, so this must not block.
	done := make(chan struct{})
	go func() {
		j.Removable(task)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full channel")
	}
}
