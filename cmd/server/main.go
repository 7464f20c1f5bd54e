package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"exstrkv/internal/api"
	"exstrkv/internal/config"
	"exstrkv/internal/engine"
	"exstrkv/internal/exstring"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/logging"
	"exstrkv/internal/metrics"
	"exstrkv/internal/resp"
	"exstrkv/internal/schedule"
	"exstrkv/internal/snapshot"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("KV_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.LogError(context.Background(), err, "server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var store *snapshot.Store
	if cfg.SnapshotsEnabled() {
		s, err := snapshot.Open(ctx, snapshot.Config{
			Driver: cfg.Snapshot.Driver,
			DSN:    cfg.SnapshotDSN(),
			Logger: logger.WithComponent("snapshot"),
		})
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		store = s
		defer store.Close()
	}

	walLogger := logger.WithComponent("commitlog")
	records := engine.LoadCommitLog(cfg.CommitLogPath(), walLogger)
	wal, closeWAL, err := engine.NewCommitLogManager(context.Background(), engine.CommitLogCfg{
		Path:                 cfg.CommitLogPath(),
		EnqueueTimeout:       cfg.CommitLog.EnqueueTimeout,
		FlushInterval:        cfg.CommitLog.FlushInterval,
		MaxEnqueuingMutation: cfg.CommitLog.MaxEnqueuing,
		BufferBytes:          cfg.CommitLog.BufferBytes,
		Logger:               walLogger,
	})
	if err != nil {
		return fmt.Errorf("open commit log: %w", err)
	}
	defer func() {
		closeWAL()
		<-wal.Done()
	}()

	engineLogger := logger.WithComponent("engine")
	collector := metrics.New(nil)
	eng := exstring.NewEngine(keyspace.New(),
		exstring.WithReplicator(wal),
		exstring.WithObserver(collector),
		exstring.WithLogger(engineLogger))
	collector.Track(eng)

	var recoverySource engine.SnapshotStore
	if store != nil {
		recoverySource = store
	}
	if _, err := engine.Recover(ctx, eng, recoverySource, records, engineLogger); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	health := api.NewHealth()
	httpSrv := &http.Server{
		Handler: api.NewServer(eng, api.ServerOptions{
			Health:  health,
			Metrics: collector.Handler(),
			Logger:  logger.WithComponent("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	respSrv := resp.NewServer(eng, resp.Config{Logger: logger.WithComponent("resp")})
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health.Server())

	// Listeners are bound before readiness is reported.
	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	respLn, err := net.Listen("tcp", cfg.RESPAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listen resp: %w", err)
	}
	grpcLn, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		httpLn.Close()
		respLn.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	errc := make(chan error, 3)
	go func() {
		logger.Info("http server listening", slog.String("addr", httpLn.Addr().String()))
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := respSrv.Serve(respLn); err != nil && !errors.Is(err, resp.ErrServerClosed) {
			errc <- fmt.Errorf("resp server: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc health server listening", slog.String("addr", grpcLn.Addr().String()))
		if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	stopSweep := schedule.Start(ctx, cfg.ExpirySweepInterval, "expiry-sweep", func(context.Context) error {
		eng.SweepExpired()
		return nil
	}, engineLogger)
	defer stopSweep()

	var snapshotter *engine.Snapshotter
	if store != nil {
		snapshotter = engine.NewSnapshotter(eng, store, wal, collector, logger.WithComponent("snapshot"))
		stopSnapshots := schedule.Start(ctx, cfg.Snapshot.Interval, "snapshot", func(ctx context.Context) error {
			_, err := snapshotter.Snapshot(ctx)
			return err
		}, engineLogger)
		defer stopSnapshots()
	} else {
		compactor := engine.NewCompactor(eng, wal, collector, walLogger)
		stopCompaction := schedule.Start(ctx, cfg.Snapshot.Interval, "compaction", compactor.Compact, engineLogger)
		defer stopCompaction()
	}

	health.SetReady(true)
	logger.Info("server ready", slog.Int("keys", eng.Len()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, err, "http shutdown")
	}
	if err := respSrv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, err, "resp shutdown")
	}
	grpcSrv.GracefulStop()

	if snapshotter != nil {
		if _, err := snapshotter.Snapshot(shutdownCtx); err != nil {
			logger.LogError(shutdownCtx, err, "final snapshot")
		}
	}
	return runErr
}
