// Package snapshot implements the periodic graph-snapshot exporter named in
// SPEC_FULL §13: a point-in-time JSON summary of the scheduler's queue
// depths, uploaded to whichever internal/storage backend the deployment
// configures. This is a debugging artifact only — the engine never reads a
// snapshot back, consistent with "no persistence of the graph" (SPEC_FULL
// §1's Non-goals).
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/parallux/depengine/internal/scheduler"
	"github.com/parallux/depengine/internal/storage"
	"github.com/parallux/depengine/pkg/config"
	"github.com/parallux/depengine/pkg/utils"
)

// Summary is the JSON shape uploaded on every tick.
type Summary struct {
	Timestamp     time.Time `json:"timestamp"`
	ActiveWorkers int       `json:"active_workers"`
	TotalWorkers  int       `json:"total_workers"`
	QueuedReady   int       `json:"queued_ready"`
	PendingLink   int       `json:"pending_link"`
	Overloaded    bool      `json:"overloaded"`
}

// Exporter polls a Scheduler on a fixed interval and uploads a Summary
// through a storage.Storage backend.
type Exporter struct {
	sched    *scheduler.Scheduler
	store    storage.Storage
	interval time.Duration
	prefix   string
	logger   utils.Logger

	stop chan struct{}
}

// New builds an Exporter. cfg.IntervalSeconds <= 0 defaults to 30s.
func New(sched *scheduler.Scheduler, store storage.Storage, cfg *config.SnapshotConfig, logger utils.Logger) *Exporter {
	interval := 30 * time.Second
	if cfg != nil && cfg.IntervalSeconds > 0 {
		interval = time.Duration(cfg.IntervalSeconds) * time.Second
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, os.Stdout)
	}
	return &Exporter{
		sched:    sched,
		store:    store,
		interval: interval,
		prefix:   "snapshots",
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the export loop until ctx is canceled or Stop is called.
func (e *Exporter) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop ends the export loop.
func (e *Exporter) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

func (e *Exporter) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.exportOnce(ctx); err != nil {
				e.logger.Warn("snapshot export failed: %v", err)
			}
		}
	}
}

func (e *Exporter) exportOnce(ctx context.Context) error {
	stats := e.sched.Stats()
	s := Summary{
		Timestamp:     time.Now(),
		ActiveWorkers: stats.ActiveWorkers,
		TotalWorkers:  stats.TotalWorkers,
		QueuedReady:   stats.QueuedReady,
		PendingLink:   stats.PendingLink,
		Overloaded:    e.sched.Overloaded(),
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/%d.json", e.prefix, s.Timestamp.UnixNano())
	if err := e.store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	e.logger.Debug("exported snapshot to %s", key)
	return nil
}
