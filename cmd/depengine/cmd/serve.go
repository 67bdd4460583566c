package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/parallux/depengine/internal/depgraph"
	"github.com/parallux/depengine/internal/scheduler"
	"github.com/parallux/depengine/internal/snapshot"
	"github.com/parallux/depengine/internal/storage"
	"github.com/parallux/depengine/pkg/journal"
	"github.com/parallux/depengine/pkg/telemetry"
)

var (
	serveAddr string
)

// serveCmd boots the scheduler behind a gRPC health check: SERVING while the
// ready-queue backlog stays under the configured threshold, NOT_SERVING once
// it crosses it.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler behind a gRPC health check",
	Long: `serve starts OpenTelemetry tracing, the dependency-engine-backed
Scheduler, and a gRPC server exposing only the standard health-checking
service. The health service flips to NOT_SERVING whenever the scheduler's
ready-queue backlog crosses the configured threshold, so an orchestrator can
use it as a backpressure signal without this process exposing any other RPC
surface.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9090", "Listen address for the gRPC health server")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg := GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(ctx)

	var sink depgraph.InstrumentationSink = depgraph.NewLoggingSink(log)
	if cfg.Journal.Enabled {
		db, err := journal.NewGormDB(&cfg.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		j := journal.New(db, cfg.Journal.BatchSize, 2*time.Second, log)
		defer j.Close()
		sink = depgraph.FanOut(sink, j)
	}

	schedCfg := scheduler.FromConfig(&cfg.Engine)
	sched := scheduler.New(schedCfg, sink, log)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Snapshot.Enabled {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to init snapshot storage: %w", err)
		}
		exporter := snapshot.New(sched, store, &cfg.Snapshot, log)
		exporter.Start(ctx)
		defer exporter.Stop()
	}

	lis, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", serveAddr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	stopBacklogWatch := make(chan struct{})
	go watchBacklog(sched, healthServer, stopBacklogWatch)

	go func() {
		log.Info("gRPC health server listening on %s", serveAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	close(stopBacklogWatch)
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	return nil
}

// watchBacklog polls the scheduler's ready-queue depth and flips the health
// service's serving status whenever it crosses the configured threshold.
func watchBacklog(sched *scheduler.Scheduler, hs *health.Server, stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if sched.Overloaded() {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus("", status)
		}
	}
}
