package journal

import (
	"sync"
	"time"

	"github.com/parallux/depengine/internal/depgraph"
	"github.com/parallux/depengine/pkg/region"
	"github.com/parallux/depengine/pkg/utils"
	"gorm.io/gorm"
)

// Journal is a gorm-backed InstrumentationSink. Every event the engine
// emits is queued and flushed to the database in batches from a single
// background goroutine, so it can sit in Hooks.Sink without the engine ever
// blocking on a database round-trip while holding a task's lock.
type Journal struct {
	db        *gorm.DB
	logger    utils.Logger
	batchSize int

	events chan EventRecord
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Journal writing to db, flushing every batchSize events or
// every flushInterval, whichever comes first.
func New(db *gorm.DB, batchSize int, flushInterval time.Duration, logger utils.Logger) *Journal {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}

	j := &Journal{
		db:        db,
		logger:    logger,
		batchSize: batchSize,
		events:    make(chan EventRecord, batchSize*4),
		stopCh:    make(chan struct{}),
	}
	j.wg.Add(1)
	go j.run(flushInterval)
	return j
}

func (j *Journal) run(flushInterval time.Duration) {
	defer j.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var batch []EventRecord
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.db.Create(&batch).Error; err != nil {
			j.logger.Error("journal: failed to persist %d events: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.events:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stopCh:
			for {
				select {
				case e := <-j.events:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the background flush loop, persisting any buffered events,
// and closes the underlying connection.
func (j *Journal) Close() error {
	close(j.stopCh)
	j.wg.Wait()
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (j *Journal) enqueue(e EventRecord) {
	select {
	case j.events <- e:
	default:
		j.logger.Warn("journal: event queue full, dropping %s event for task %s", e.EventType, e.TaskLabel)
	}
}

// CreatedAccess implements depgraph.InstrumentationSink.
func (j *Journal) CreatedAccess(task *depgraph.Task, kind depgraph.AccessKind, r region.Region) {
	j.enqueue(EventRecord{
		EventType:    "created_access",
		TaskLabel:    task.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
		Kind:         kind.String(),
	})
}

// Upgraded implements depgraph.InstrumentationSink.
func (j *Journal) Upgraded(task *depgraph.Task, r region.Region, oldKind, newKind depgraph.AccessKind) {
	j.enqueue(EventRecord{
		EventType:    "upgraded",
		TaskLabel:    task.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
		OldKind:      oldKind.String(),
		Kind:         newKind.String(),
	})
}

// Linked implements depgraph.InstrumentationSink.
func (j *Journal) Linked(prev, next *depgraph.Task, r region.Region) {
	j.enqueue(EventRecord{
		EventType:    "linked",
		TaskLabel:    next.Label,
		PeerLabel:    prev.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
	})
}

// Unlinked implements depgraph.InstrumentationSink.
func (j *Journal) Unlinked(prev, next *depgraph.Task, r region.Region) {
	j.enqueue(EventRecord{
		EventType:    "unlinked",
		TaskLabel:    prev.Label,
		PeerLabel:    next.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
	})
}

// Satisfied implements depgraph.InstrumentationSink.
func (j *Journal) Satisfied(task *depgraph.Task, r region.Region, read, write, topmost bool) {
	j.enqueue(EventRecord{
		EventType:        "satisfied",
		TaskLabel:        task.Label,
		RegionStart:      uint64(r.Start),
		RegionLength:     uint64(r.Length),
		ReadSatisfied:    read,
		WriteSatisfied:   write,
		TopmostSatisfied: topmost,
	})
}

// Removable implements depgraph.InstrumentationSink.
func (j *Journal) Removable(task *depgraph.Task) {
	j.enqueue(EventRecord{EventType: "removable", TaskLabel: task.Label})
}

// Removed implements depgraph.InstrumentationSink.
func (j *Journal) Removed(task *depgraph.Task, r region.Region) {
	j.enqueue(EventRecord{
		EventType:    "removed",
		TaskLabel:    task.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
	})
}

// Fragmented implements depgraph.InstrumentationSink.
func (j *Journal) Fragmented(task *depgraph.Task, original, into region.Region) {
	j.enqueue(EventRecord{
		EventType:    "fragmented",
		TaskLabel:    task.Label,
		RegionStart:  uint64(original.Start),
		RegionLength: uint64(original.Length),
		IntoStart:    uint64(into.Start),
		IntoLength:   uint64(into.Length),
	})
}

// ModifiedRegion implements depgraph.InstrumentationSink.
func (j *Journal) ModifiedRegion(task *depgraph.Task, r region.Region) {
	j.enqueue(EventRecord{
		EventType:    "modified_region",
		TaskLabel:    task.Label,
		RegionStart:  uint64(r.Start),
		RegionLength: uint64(r.Length),
	})
}
