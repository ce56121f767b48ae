package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitchflow/stitchflow/internal/kafka"
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	"github.com/stitchflow/stitchflow/internal/notify"
	"github.com/stitchflow/stitchflow/internal/onec"
	"github.com/stitchflow/stitchflow/internal/postgres"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/internal/scan"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/internal/stats"
	"github.com/stitchflow/stitchflow/internal/syncer"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
	"github.com/stitchflow/stitchflow/services/api/config"
	"github.com/stitchflow/stitchflow/services/api/handler"
	"github.com/stitchflow/stitchflow/services/api/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the floor-facing HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("onec-base-url", "http://localhost:8090/erp/hs/production", "base URL of the ERP HTTP service")
	serveCmd.Flags().String("timezone", "Local", "IANA timezone for day-stat boundaries")
	serveCmd.Flags().Int("scan-rate-limit", 10, "remote scan lookups allowed per window")
	serveCmd.Flags().Duration("scan-rate-window", 10*time.Second, "scan rate limit window")
	serveCmd.Flags().String("completion-hook-url", "", "optional webhook URL notified on completions")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("onec_base_url", serveCmd.Flags(), "onec-base-url")
	bindFlag("timezone", serveCmd.Flags(), "timezone")
	bindFlag("scan_rate_limit", serveCmd.Flags(), "scan-rate-limit")
	bindFlag("scan_rate_window", serveCmd.Flags(), "scan-rate-window")
	bindFlag("completion_hook_url", serveCmd.Flags(), "completion-hook-url")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "api")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "api", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

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
	limiter := redisstore.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow)

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	erp := onec.NewClient(cfg.OneCBaseURL, onec.WithLogger(logger))

	notifiers := notify.Multi{syncer.NewPublisher(producer, logger)}
	if cfg.CompletionHook != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.CompletionHook, notify.WithLogger(logger)))
	}

	tracker := session.NewTracker(store, session.WithLogger(logger))
	manager := lifecycle.NewManager(store, tracker,
		lifecycle.WithNotifier(notifiers),
		lifecycle.WithLogger(logger),
	)
	aggregator := stats.NewAggregator(store,
		stats.WithLocation(loc),
		stats.WithLogger(logger),
	)
	resolver := scan.NewResolver(store, erp,
		scan.WithRateLimiter(limiter),
		scan.WithLogger(logger),
	)

	restHandler := handler.NewREST(store, manager, tracker, aggregator, resolver, syncState, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", restHandler.Healthz)
	r.Get("/readyz", restHandler.Readyz)
	r.Route("/api/v1", restHandler.Routes)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	go func() {
		logger.Info("api HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
