package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/semroute/internal/cache"
	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/config"
	"github.com/af-corp/semroute/internal/economics"
	"github.com/af-corp/semroute/internal/embedding"
	"github.com/af-corp/semroute/internal/eventlog"
	"github.com/af-corp/semroute/internal/optimizer"
	"github.com/af-corp/semroute/internal/policy"
	"github.com/af-corp/semroute/internal/provider"
	"github.com/af-corp/semroute/internal/retry"
	"github.com/af-corp/semroute/internal/routing"
	"github.com/af-corp/semroute/internal/server"
	"github.com/af-corp/semroute/internal/task"
	"github.com/af-corp/semroute/internal/telemetry"
	"github.com/af-corp/semroute/internal/tokens"
	"github.com/af-corp/semroute/internal/vectorindex"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()

	if lvl := parseLogLevel(cfg.Telemetry.LogLevel); lvl != slog.LevelInfo {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
		slog.SetDefault(logger)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (request events disabled)", "error", err)
		dbPool.Close()
		dbPool = nil
	} else {
		defer dbPool.Close()
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (falling back to in-memory cache stores)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Cache tiers. Tier 1 and Tier 3 survive restarts when Redis is up; the
	// Tier 2 vector index is always in-memory and rebuilds from traffic.
	var exactStore, intermediateStore cache.Store
	if rdb != nil {
		exactStore = cache.NewRedisStore(rdb, "exact")
		intermediateStore = cache.NewRedisStore(rdb, "intermediate")
	} else {
		exactStore = cache.NewMemoryStore()
		intermediateStore = cache.NewMemoryStore()
	}

	embedder := embedding.NewClient(cfg.Embedding)
	index := vectorindex.NewMemory(cfg.Embedding.Dimension)
	tuner := economics.NewThresholdTuner(cfg.Economics.Thresholds)
	calculator := economics.NewMismatchCalculator(cfg.Economics.QualityPenaltyWeight, cfg.Economics.TaskWeights)

	exact := cache.NewExactCache(exactStore, cfg.Cache.ExactTTL)
	semantic := cache.NewSemanticCache(embedder, index, tuner, calculator, cfg.Cache.SemanticTopK, cfg.Cache.SemanticTTL)
	intermediate := cache.NewIntermediateCache(intermediateStore, cfg.Cache.IntermediateTTL)

	// Model catalog and routing
	modelCatalog := catalog.FromConfig(loader.Catalog())
	engine := routing.NewEngine(modelCatalog)

	// Provider registry, circuit breakers, dispatcher
	registry := provider.BuildFromConfig(loader.Providers())
	health := provider.NewHealthTracker(
		cfg.Routing.CircuitBreaker.FailureThreshold,
		cfg.Routing.CircuitBreaker.RecoveryProbeInterval,
	)
	dispatcher := provider.NewDispatcher(registry, health, retry.Policy{
		MaxAttempts: cfg.Routing.MaxRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	})

	loader.OnReload(func() {
		reloaded := loader.Config()
		modelCatalog.Reload(loader.Catalog())
		tuner.Reload(reloaded.Economics.Thresholds)
		calculator.SetTaskWeights(reloaded.Economics.TaskWeights)
		registry.ReloadFrom(loader.Providers())
		logger.Info("configuration reloaded")
	})

	// Policy engine
	evaluator := policy.NewEvaluator(func() config.PolicyConfig {
		return loader.Config().Policy
	})
	if cfg.Policy.Enabled {
		if err := evaluator.Load(); err != nil {
			logger.Warn("failed to load cache policies (admission runs unrestricted)", "error", err)
		} else {
			logger.Info("cache policies loaded", "path", cfg.Policy.BundlePath)
		}
	}

	events := eventlog.NewStore(dbPool)
	metrics := telemetry.NewMetrics()

	opt := optimizer.New(optimizer.Deps{
		Detector:             task.NewDetector(cfg.Detector.ConfidenceFloor),
		Exact:                exact,
		Semantic:             semantic,
		Intermediate:         intermediate,
		Engine:               engine,
		Dispatcher:           dispatcher,
		Catalog:              modelCatalog,
		Policy:               evaluator,
		Events:               events,
		Metrics:              metrics,
		Estimator:            tokens.NewEstimator(),
		ExpectedOutputFactor: cfg.Routing.ExpectedOutputFactor,
		MaxPromptLength:      cfg.Cache.MaxPromptLength,
	})

	handler := server.NewHandler(opt, modelCatalog, exact, semantic, intermediate, health, events)

	// Metrics endpoint on its own listener
	if cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
		go func() {
			logger.Info("metrics listener starting", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("semroute starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("semroute stopped")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
