package main

import (
	"VesselLedger/internal/config"
	"VesselLedger/internal/core"
	"VesselLedger/internal/event"
	"VesselLedger/internal/ingestion"
	"VesselLedger/internal/observability"
	"VesselLedger/internal/persistence"
	"VesselLedger/internal/projection"
	"VesselLedger/internal/query"
	"VesselLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("main")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := observability.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Fatal().Err(err).Msg("configure logging")
	}
	logger = observability.NewLogger("main")
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}
	logger.Info().Msg("VesselLedger starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("VesselLedger stopped")
	}
	logger.Info().Msg("VesselLedger shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker(observability.GateRecovery, observability.GateIntake)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Channels ---
	// The persist channel blocks the core when full; the projection channel
	// drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	commandChan := make(chan event.Event, cfg.IngestChanSize)
	rawChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.IngestChanSize)

	// --- Deterministic core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore := core.NewDeterministicCore(core.Config{
		DebtToken:           cfg.DebtToken,
		RewardToken:         cfg.RewardToken,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Encode:              ingestion.EncodeEvent,
	}, 0, persistChan, projectionChan, dbChecker, metrics)

	// Workers that drain the core's output run before recovery, since
	// replay emits envelopes too. Rows below publishFrom are replays and
	// are not published again.
	var publishFrom atomic.Int64
	publishFrom.Store(math.MaxInt64)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persistence"))
	persistWorker.OnFlushed(func(rows []persistence.EventRow) {
		from := publishFrom.Load()
		for _, row := range rows {
			if row.Sequence < from {
				continue
			}
			select {
			case publishChan <- row.Publishable():
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLogger("projection"))

	// Output workers outlive ctx: they stop when the core's channels close.
	var drain sync.WaitGroup
	errChan := make(chan error, 10)
	drain.Add(2)
	go func() {
		defer drain.Done()
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	go func() {
		defer drain.Done()
		if err := projWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	recovery := persistence.NewRecovery(snapMgr, cfg.ReplayPageSize, metrics, observability.NewLogger("recovery"))
	if _, err := recovery.Recover(ctx, deterministicCore); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	dbChecker.Enable()
	publishFrom.Store(deterministicCore.GetSequence())
	healthChecker.Mark(observability.GateRecovery, true)

	// --- Runner ---
	runner := core.NewRunner(deterministicCore, commandChan, observability.NewLogger("core"))
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(coreCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("core runner: %w", err)
		}
	}()

	if err := bootstrapCollaterals(ctx, cfg.CollateralsFile, runner, commandChan, logger); err != nil {
		return err
	}

	snap, err := runner.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot for reconcile: %w", err)
	}
	if err := projWorker.Reconcile(ctx, snap); err != nil {
		logger.Warn().Err(err).Msg("projection reconcile failed")
	}

	// --- NATS ---
	natsLogger := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	// The publisher stops when publishChan closes, after the last flush.
	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		if err := publisher.Run(pubCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("outbound publisher: %w", err)
		}
	}()

	subscriber := ingestion.NewNATSSubscriber(js, rawChan, metrics, natsLogger)
	go ingestion.Dispatch(coreCtx, rawChan, commandChan, metrics, observability.NewLogger("ingest"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	healthChecker.Mark(observability.GateIntake, true)

	// --- Snapshots ---
	snapshotter := persistence.NewSnapshotter(runner, snapMgr, cfg.SnapshotInterval, cfg.SnapshotTick,
		snap.Sequence, metrics, observability.NewLogger("snapshot"))
	go func() {
		if err := snapshotter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("snapshotter: %w", err)
		}
	}()

	go monitorChannels(ctx, metrics, map[string]int{
		"persist":    cap(persistChan),
		"projection": cap(projectionChan),
		"command":    cap(commandChan),
		"publish":    cap(publishChan),
	}, func() map[string]int {
		return map[string]int{
			"persist":    len(persistChan),
			"projection": len(projectionChan),
			"command":    len(commandChan),
			"publish":    len(publishChan),
		}
	})

	// --- Servers ---
	queryService := query.NewQueryService(runner, db, metrics)
	var gatherer prometheus.Gatherer
	if cfg.MetricsAddr == "" {
		gatherer = prometheus.DefaultGatherer
	}
	handler, err := server.NewHandler(server.HTTPDeps{Query: queryService, Health: healthChecker, Gatherer: gatherer})
	if err != nil {
		return err
	}
	serverLogger := observability.NewLogger("server")
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, serverLogger)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, handler, serverLogger)

	go func() {
		if err := grpcServer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.MetricsAddr != "" {
		metricsServer := server.NewHTTPServer(cfg.MetricsAddr, promhttp.Handler(), serverLogger)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	grpcServer.SetServing(true)
	logger.Info().
		Int64("next_sequence", snap.Sequence+1).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("VesselLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Stop intake and servers first, then the core, then drain its outputs.
	healthChecker.Mark(observability.GateIntake, false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancel()
	stopCore()
	<-runnerDone
	close(persistChan)
	close(projectionChan)
	drain.Wait()
	close(publishChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	select {
	case <-publisherDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("outbound publisher did not drain in time")
	}
	if err := finalSnapshot(shutdownCtx, deterministicCore, snapMgr); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	return runErr
}

// bootstrapCollaterals installs the configured collateral assets the ledger
// does not know yet. Known assets are left to the command stream.
func bootstrapCollaterals(ctx context.Context, path string, runner *core.Runner, commands chan<- event.Event, logger zerolog.Logger) error {
	if path == "" {
		return nil
	}
	params, err := config.LoadCollaterals(path)
	if err != nil {
		return err
	}

	var pending []event.Event
	if err := runner.Read(ctx, func(c *core.DeterministicCore) {
		known := make(map[string]bool)
		for _, asset := range c.Assets() {
			known[asset] = true
		}
		now := time.Now()
		for _, p := range params {
			if known[p.Asset] {
				continue
			}
			seq := c.ExpectedSourceSequence(core.AssetPartition(p.Asset))
			pending = append(pending, config.GenesisCommand(p, seq, now))
		}
	}); err != nil {
		return err
	}

	for _, cmd := range pending {
		select {
		case commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
		logger.Info().Str("asset", *cmd.AssetID()).Msg("installing configured collateral")
	}
	// Wait until the runner has applied them.
	return runner.Read(ctx, func(*core.DeterministicCore) {})
}

// finalSnapshot saves the stopped core's state. Every output has been
// flushed by now, so the snapshot is verified immediately.
func finalSnapshot(ctx context.Context, c *core.DeterministicCore, mgr *persistence.SnapshotManager) error {
	if c.GetSequence() == 0 {
		return nil
	}
	data := persistence.NewSnapshotData(c.CreateSnapshotState())
	latest, err := mgr.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	if latest < data.Sequence {
		return fmt.Errorf("event log at %d behind core at %d, snapshot skipped", latest, data.Sequence)
	}
	if _, err := mgr.SaveSnapshot(ctx, data); err != nil {
		return err
	}
	return mgr.MarkVerified(ctx, data.Sequence)
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics, capacity map[string]int, sizes func() map[string]int) {
	for name, c := range capacity {
		metrics.ChannelCapacity.WithLabelValues(name).Set(float64(c))
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, n := range sizes() {
				metrics.ChannelSize.WithLabelValues(name).Set(float64(n))
				if c := capacity[name]; c > 0 {
					metrics.ChannelUtilization.WithLabelValues(name).Set(float64(n) / float64(c))
				}
			}
		}
	}
}
