package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitchflow/stitchflow/internal/kafka"
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	"github.com/stitchflow/stitchflow/internal/onec"
	"github.com/stitchflow/stitchflow/internal/postgres"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/internal/syncer"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
	"github.com/stitchflow/stitchflow/services/syncd/config"
)

const leaderLockKey = "syncd:leader"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9096", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("onec-base-url", "http://localhost:8090/erp/hs/production", "base URL of the ERP HTTP service")
	serveCmd.Flags().String("sync-schedule", "*/5 * * * *", "cron schedule for reconciliation passes")
	serveCmd.Flags().Duration("pull-timeout", 2*time.Minute, "time budget for one reconciliation pass")
	serveCmd.Flags().Duration("lock-ttl", time.Minute, "leader lock TTL")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("onec_base_url", serveCmd.Flags(), "onec-base-url")
	bindFlag("sync_schedule", serveCmd.Flags(), "sync-schedule")
	bindFlag("pull_timeout", serveCmd.Flags(), "pull-timeout")
	bindFlag("lock_ttl", serveCmd.Flags(), "lock-ttl")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "syncd")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "syncd", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	syncState := redisstore.NewSyncState(redisClient)
	lock := redisstore.NewLeaderLock(redisClient, leaderLockKey, uuid.New().String(), cfg.LockTTL)

	erp := onec.NewClient(cfg.OneCBaseURL, onec.WithLogger(logger))

	// Crash recovery first: sessions left open by a completed task would
	// block their workers from starting anything new.
	tracker := session.NewTracker(store, session.WithLogger(logger))
	manager := lifecycle.NewManager(store, tracker, lifecycle.WithLogger(logger))
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	recovered, err := manager.RecoverOrphanSessions(recoverCtx)
	recoverCancel()
	if err != nil {
		return fmt.Errorf("orphan session recovery: %w", err)
	}
	if recovered > 0 {
		logger.Warn("recovered orphan sessions", slog.Int("count", recovered))
	}

	reconciler := syncer.NewReconciler(store, erp,
		syncer.WithSyncState(syncState),
		syncer.WithLogger(logger),
	)
	runner, err := syncer.NewRunner(reconciler, lock, cfg.SyncSchedule,
		syncer.WithPullTimeout(cfg.PullTimeout),
		syncer.WithRunnerLogger(logger),
	)
	if err != nil {
		return err
	}

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	consumer := kafka.NewConsumer(brokers, syncer.TopicCompletions, "syncd-relay", logger)
	defer func() { _ = consumer.Close() }()
	relay := syncer.NewRelay(consumer, erp, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("sync runner starting", slog.String("schedule", cfg.SyncSchedule))
		errCh <- runner.Run(runCtx)
	}()
	go func() {
		logger.Info("completion relay starting")
		errCh <- relay.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-quit:
		logger.Info("shutting down...", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && runCtx.Err() == nil {
			logger.Error("component failed", slog.String("error", err.Error()))
			runCancel()
			return err
		}
	}

	runCancel()
	logger.Info("stopped")
	return nil
}
