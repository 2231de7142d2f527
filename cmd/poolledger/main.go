package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PoolLedger/internal/config"
	"PoolLedger/internal/core"
	"PoolLedger/internal/evmsync"
	"PoolLedger/internal/ingestion"
	"PoolLedger/internal/multicall"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/query"
	"PoolLedger/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading POOL_* variables")
	flag.Parse()

	log := observability.NewLogger("main").With().Str("run_id", uuid.NewString()).Logger()
	if err := run(*envFile, log); err != nil {
		log.Fatal().Err(err).Msg("PoolLedger stopped")
	}
	log.Info().Msg("PoolLedger shutdown complete")
}

func run(envFile string, log zerolog.Logger) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	chains := cfg.ChainIDs()
	log.Info().Strs("chains", chains).Int("legacy_pools", len(cfg.Chain.Legacy.Pools)).Msg("PoolLedger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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
	log.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure), the publish channel drops
	persistChan := make(chan persistence.EventRow, cfg.PersistChanSize)
	publishChan := make(chan persistence.EventRow, cfg.PublishChanSize)
	rawEventChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)

	store := persistence.NewPostgresStore(db)
	eventLog := persistence.NewEventLogWriter(db)

	opts := []core.Option{
		core.WithMetrics(metrics),
		core.WithHealth(healthChecker),
		core.WithEventLog(persistence.NewPostgresIdempotencyChecker(db)),
		core.WithOutputs(persistChan, publishChan),
	}

	// --- Legacy sync ---
	if cfg.LegacyEnabled() {
		eth, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
		if err != nil {
			return fmt.Errorf("dial eth rpc: %w", err)
		}
		defer eth.Close()
		agg := multicall.New(
			multicall.NewEthExecutor(eth, common.HexToAddress(cfg.MulticallAddress)),
			multicall.WithBatchSize(cfg.MulticallBatchSize),
			multicall.WithBatchTimeout(cfg.MulticallTimeout),
			multicall.WithMetrics(metrics),
			multicall.WithLogger(observability.NewLogger("multicall")),
		)
		syncer := evmsync.New(cfg.Chain.Legacy, agg,
			evmsync.WithConcurrency(cfg.SyncConcurrency),
			evmsync.WithMetrics(metrics),
			evmsync.WithLogger(observability.NewLogger("evmsync")),
		)
		opts = append(opts, core.WithSyncer(syncer))
		log.Info().Str("chain_id", cfg.Chain.Legacy.ChainID).Msg("legacy sync enabled")
	}

	processor := core.NewProcessor(store, cfg.Core(), observability.NewLogger("core"), opts...)

	// --- Recovery ---
	lastSeq, err := eventLog.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("read event log sequence: %w", err)
	}
	if err := processor.Recover(ctx, chains, lastSeq); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	startSequence := processor.Sequence()
	if cfg.WarmDedupKeys > 0 {
		keys, err := eventLog.RecentKeys(ctx, cfg.WarmDedupKeys)
		if err != nil {
			log.Warn().Err(err).Msg("dedup warm-up failed")
		} else {
			processor.WarmDedup(keys)
			log.Info().Int("keys", len(keys)).Msg("dedup cache warmed")
		}
	}

	// --- NATS ---
	natsLog := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLog)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, cfg.NATSConsumer, metrics, natsLog)
	runner := ingestion.NewRunner(processor, metrics, observability.NewLogger("ingestion"))
	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	// --- gRPC health + HTTP query gateway ---
	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		QueryService:  query.NewQueryService(store, eventLog),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persistence"))
	persistDone := make(chan struct{})

	// 1. Persistence worker, drained on shutdown after the processor stops
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Outbound publisher
	go func() {
		if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	// 3. NATS pull -> processor. The runner is the only goroutine calling Process.
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(ctx, rawEventChan); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("runner: %w", err)
		}
	}()
	go func() {
		if err := subscriber.Run(ctx, chains); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("subscriber: %w", err)
		}
	}()

	// 4. gRPC and HTTP
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := srv.StartHTTP(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 5. Prometheus metrics server
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 6. Channel utilization
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("inbound", len(rawEventChan), cap(rawEventChan))
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			}
		}
	}()

	srv.SetServing(true)
	log.Info().Int64("sequence", startSequence).Str("grpc", cfg.GRPCAddr).Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).Msg("PoolLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		log.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, wait for the processor, then flush the event log
	srv.SetServing(false)
	cancel()
	<-runnerDone
	close(persistChan)
	close(publishChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("persistence flush timed out")
	}
	metricsServer.Shutdown(shutdownCtx)
	return runErr
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}
