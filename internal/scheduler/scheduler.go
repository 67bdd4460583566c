// Package scheduler provides the worker pool that drives the dependency
// engine: it is the Scheduler collaborator the engine's Hooks call into
// whenever a task becomes ready or removable.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parallux/depengine/internal/depgraph"
	"github.com/parallux/depengine/pkg/config"
	"github.com/parallux/depengine/pkg/utils"
)

// tracer names every span this package emits. A disabled TracerProvider
// (the default until telemetry.Init runs) makes Start/End free no-ops, so
// this is safe to call unconditionally rather than gating on
// telemetry.Enabled() at every call site.
var tracer = otel.Tracer("depengine/scheduler")

// Runnable is the user body a task carries. The engine itself has no notion
// of what a task does; Runnable is how the scheduler's worker goroutines
// find out.
type Runnable func(ctx context.Context) error

// Item pairs a task with the body to run once it becomes ready.
type Item struct {
	Task     *depgraph.Task
	Priority int // Higher value = higher priority
	Run      Runnable
}

// Config holds scheduler configuration.
type Config struct {
	Workers            int // Number of concurrent workers
	ReadyQueueCapacity int // Capacity of the ready-task queue
	PrioritySlots      int // Worker slots reserved for high priority tasks
	BacklogThreshold   int // Ready-queue depth above which the runtime is considered overloaded
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:            5,
		ReadyQueueCapacity: 20,
		PrioritySlots:      2,
		BacklogThreshold:   100,
	}
}

// FromConfig builds a scheduler Config from the application's EngineConfig.
func FromConfig(cfg *config.EngineConfig) *Config {
	return &Config{
		Workers:            cfg.Workers,
		ReadyQueueCapacity: cfg.ReadyQueueCapacity,
		PrioritySlots:      cfg.PrioritySlots,
		BacklogThreshold:   cfg.BacklogThreshold,
	}
}

// Scheduler owns a dependency engine and the worker pool that runs tasks as
// they become ready. It is the concrete Scheduler collaborator referenced
// throughout the engine's Hooks: RegisterTaskAccesses's declare callback and
// a task's Runnable both run on this scheduler's goroutines.
type Scheduler struct {
	config *Config
	engine *depgraph.Engine
	logger utils.Logger
	clock  utils.Clock

	workerPool chan struct{} // Semaphore for worker count
	readyQueue chan *Item    // Tasks whose predecessor_count has reached zero
	removals   chan *depgraph.Task

	mu      sync.Mutex
	pending map[*depgraph.Task]*Item // tasks declared but not yet linked-ready

	wg      sync.WaitGroup
	stopCh  chan struct{}
	running bool
}

// New creates a Scheduler backed by a fresh dependency engine. sink receives
// every instrumentation event the engine emits; a nil sink is replaced with
// a no-op.
func New(cfg *Config, sink depgraph.InstrumentationSink, logger utils.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, os.Stdout)
	}

	s := &Scheduler{
		config:     cfg,
		logger:     logger,
		clock:      utils.NewRealClock(),
		workerPool: make(chan struct{}, cfg.Workers),
		readyQueue: make(chan *Item, cfg.ReadyQueueCapacity),
		removals:   make(chan *depgraph.Task, cfg.ReadyQueueCapacity),
		pending:    make(map[*depgraph.Task]*Item),
		stopCh:     make(chan struct{}),
	}
	s.engine = depgraph.NewEngine(&depgraph.Hooks{
		Sink:        sink,
		OnReady:     s.handleReady,
		OnRemovable: s.handleRemovable,
	})
	return s
}

// Engine returns the dependency engine this scheduler drives, for callers
// that need to call HandleEnterBlocking/HandleExitBlocking directly around a
// taskwait or a user mutex.
func (s *Scheduler) Engine() *depgraph.Engine {
	return s.engine
}

// Start starts the worker pool and the removal-reclamation loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler with %d workers", s.config.Workers)
	s.running = true

	for i := 0; i < s.config.Workers; i++ {
		s.workerPool <- struct{}{}
	}

	go s.processLoop(ctx)
	go s.removalLoop(ctx)
}

// Stop stops the scheduler gracefully, waiting for in-flight tasks.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	s.running = false
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Submit registers a task's accesses (via declare) and, if it has no strong
// unsatisfied predecessor, enqueues run to be executed by the worker pool.
// Otherwise run is held until the OnReady hook reports the task satisfied.
func (s *Scheduler) Submit(task *depgraph.Task, priority int, declare func(*depgraph.Task) error, run Runnable) (bool, error) {
	item := &Item{Task: task, Priority: priority, Run: run}

	s.mu.Lock()
	s.pending[task] = item
	s.mu.Unlock()

	ready, err := s.engine.RegisterTaskAccesses(task, declare)
	if err != nil {
		s.mu.Lock()
		delete(s.pending, task)
		s.mu.Unlock()
		return false, err
	}

	// A task declared with zero strong accesses never crosses a
	// predecessor-count transition, so OnReady never fires for it; pick it
	// up here instead. If OnReady already fired (and already removed the
	// entry), this is a no-op.
	if ready {
		s.enqueueIfPending(task)
	}
	return ready, nil
}

func (s *Scheduler) enqueueIfPending(task *depgraph.Task) {
	s.mu.Lock()
	item, ok := s.pending[task]
	if ok {
		delete(s.pending, task)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.readyQueue <- item
}

// handleReady is the engine's OnReady hook. It may run while a predecessor
// task's accesses lock is held (see PropagateSatisfiability), so it must
// never block; the ready queue is sized to absorb normal fan-out and a full
// queue here means the runtime is genuinely overloaded, at which point
// applying backpressure by blocking is the correct behavior anyway.
func (s *Scheduler) handleReady(task *depgraph.Task) {
	s.enqueueIfPending(task)
}

// handleRemovable is the engine's OnRemovable hook, invoked from inside
// propagation and finalization. It must not block, so reclamation happens
// asynchronously via removalLoop.
func (s *Scheduler) handleRemovable(task *depgraph.Task) {
	select {
	case s.removals <- task:
	default:
		go func() { s.removals <- task }()
	}
}

func (s *Scheduler) removalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case task := <-s.removals:
			_, span := tracer.Start(ctx, fmt.Sprintf("task.reclaim %s", task.Label))
			err := s.engine.HandleTaskRemoval(task)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
			if err != nil {
				s.logger.Error("Failed to reclaim task %s: %v", task.Label, err)
				continue
			}
			s.logger.Debug("Reclaimed task %s", task.Label)
		}
	}
}

// shouldAcceptTask reserves PrioritySlots worker slots for priority>0 tasks:
// a normal-priority task must wait while fewer than PrioritySlots slots
// remain free.
func (s *Scheduler) shouldAcceptTask(item *Item) bool {
	activeWorkers := s.config.Workers - len(s.workerPool)
	reservedThreshold := s.config.Workers - s.config.PrioritySlots

	if item.Priority > 0 {
		return activeWorkers < s.config.Workers
	}
	return activeWorkers < reservedThreshold
}

func (s *Scheduler) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case item := <-s.readyQueue:
			for !s.shouldAcceptTask(item) {
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				case <-time.After(5 * time.Millisecond):
				}
			}

			select {
			case <-s.workerPool:
				s.wg.Add(1)
				go s.processItem(ctx, item)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}
}

// processItem runs item's body and unregisters the task's accesses once it
// finishes, regardless of whether it failed: a task that errors out has
// still "finished running" for the purposes of §4.6's finalization pass.
func (s *Scheduler) processItem(ctx context.Context, item *Item) {
	defer func() {
		s.workerPool <- struct{}{}
		s.wg.Done()
	}()

	s.logger.Info("Processing task %s", item.Task.Label)

	ctx, span := tracer.Start(ctx, fmt.Sprintf("task.run %s", item.Task.Label))
	span.SetAttributes(attribute.Int("depengine.priority", item.Priority))
	defer span.End()

	// A fresh Timer per invocation, rather than one shared on the
	// Scheduler, keeps concurrent tasks that share a label from clobbering
	// each other's phase entries.
	timer := utils.NewTimer(item.Task.Label, utils.WithClock(s.clock), utils.WithEnabled(true))
	phase := timer.Start("run")
	var err error
	if item.Run != nil {
		err = item.Run(ctx)
	}
	duration := phase.Stop()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Task %s failed after %v: %v", item.Task.Label, duration, err)
	} else {
		s.logger.Info("Task %s completed successfully in %v", item.Task.Label, duration)
	}

	if uerr := s.engine.UnregisterTaskAccesses(item.Task); uerr != nil {
		s.logger.Error("Failed to unregister accesses for task %s: %v", item.Task.Label, uerr)
	}
}

// Backlog returns the current depth of the ready queue.
func (s *Scheduler) Backlog() int {
	return len(s.readyQueue)
}

// Overloaded reports whether the ready queue backlog has crossed the
// configured threshold.
func (s *Scheduler) Overloaded() bool {
	return s.Backlog() >= s.config.BacklogThreshold
}

// Stats holds scheduler statistics.
type Stats struct {
	ActiveWorkers int  `json:"active_workers"`
	TotalWorkers  int  `json:"total_workers"`
	QueuedReady   int  `json:"queued_ready"`
	PendingLink   int  `json:"pending_link"`
	Running       bool `json:"running"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()

	return Stats{
		ActiveWorkers: s.config.Workers - len(s.workerPool),
		TotalWorkers:  s.config.Workers,
		QueuedReady:   len(s.readyQueue),
		PendingLink:   pending,
		Running:       s.running,
	}
}
