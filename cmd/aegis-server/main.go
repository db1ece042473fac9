package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/aegis-ai/aegis/internal/alert"
	"github.com/aegis-ai/aegis/internal/api"
	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/chread"
	"github.com/aegis-ai/aegis/internal/engine"
	"github.com/aegis-ai/aegis/internal/gate"
	"github.com/aegis-ai/aegis/internal/learner"
	"github.com/aegis-ai/aegis/internal/policy"
	"github.com/aegis-ai/aegis/internal/scoring"
	"github.com/aegis-ai/aegis/internal/storage"
	"github.com/aegis-ai/aegis/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("AEGIS_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("AEGIS_HTTP_PORT", "8080")
	scoringTimeoutMs := envOrDefaultInt("AEGIS_SCORING_TIMEOUT_MS", 200)
	blockThreshold := envOrDefaultFloat("AEGIS_BLOCK_THRESHOLD", 0.7)
	challengeThreshold := envOrDefaultFloat("AEGIS_CHALLENGE_THRESHOLD", 0.4)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	redisAddr := os.Getenv("REDIS_ADDR")
	cacheTTL := envOrDefaultInt("AEGIS_AUTH_CACHE_TTL_S", 30)

	logger.Info("starting aegis server",
		zap.String("http_port", httpPort),
		zap.Int("scoring_timeout_ms", scoringTimeoutMs),
		zap.Float64("block_threshold", blockThreshold),
		zap.Float64("challenge_threshold", challengeThreshold),
	)

	// Remote scoring models. AEGIS_SCORER_ENDPOINTS is a comma-separated
	// list of name=url pairs; the gate's built-in heuristic model always
	// runs alongside them.
	var scorers []scoring.Scorer
	for _, pair := range strings.Split(os.Getenv("AEGIS_SCORER_ENDPOINTS"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(pair, "=")
		if !ok {
			logger.Warn("malformed scorer endpoint, expected name=url", zap.String("entry", pair))
			continue
		}
		scorers = append(scorers, scoring.NewHTTPScorer(name, endpoint, time.Duration(scoringTimeoutMs)*time.Millisecond))
		logger.Info("scoring model registered", zap.String("name", name), zap.String("endpoint", endpoint))
	}
	scoringSvc := scoring.NewService(scorers, time.Duration(scoringTimeoutMs)*time.Millisecond, logger)

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (required)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.NewStore(db)
	logger.Info("postgres connected")

	// Redis backs the adaptive rule store and webhook rate limits; without
	// it both fall back to in-process state.
	var redisClient *redis.Client
	if redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory fallbacks", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
			logger.Info("redis connected", zap.String("addr", redisAddr))
		}
	} else {
		logger.Info("no REDIS_ADDR set, using in-memory rule store and rate limits")
	}

	// Adaptive rule learner
	var ruleStore learner.RuleStore
	var eventLog learner.EventLog
	if redisClient != nil {
		ruleStore = learner.NewRedisRuleStore(redisClient)
		eventLog = learner.NewRedisEventLog(redisClient)
	} else {
		ruleStore = learner.NewMemoryRuleStore()
		eventLog = learner.NewMemoryEventLog()
	}
	ruleLearner := learner.New(learner.DefaultConfig(), ruleStore, eventLog, logger)

	// Alert pipeline
	var limiter alert.RateLimiter
	if redisClient != nil {
		limiter = alert.NewRedisRateLimiter(redisClient)
	} else {
		limiter = alert.NewMemoryRateLimiter()
	}
	dispatcher := alert.NewDispatcher(pgStore, pgStore, pgStore, limiter, logger)
	deliveryWorker := alert.NewWorker(pgStore, pgStore, pgStore, nil, logger)

	// Policy engine, seeded from the persisted configuration when present
	policyCfg := policy.DefaultConfig()
	if saved, err := pgStore.GetPolicyConfig(context.Background()); err != nil {
		logger.Warn("failed to load policy config, using defaults", zap.Error(err))
	} else if saved != nil {
		policyCfg = *saved
	}
	policyEngine, err := policy.NewEngine(policyCfg, logger)
	if err != nil {
		logger.Fatal("invalid policy config", zap.Error(err))
	}
	if bindings, err := pgStore.ListBindings(context.Background()); err != nil {
		logger.Warn("failed to load policy bindings", zap.Error(err))
	} else {
		live := make([]policy.Binding, 0, len(bindings))
		for _, b := range bindings {
			live = append(live, policy.Binding{
				RoutePrefix: b.RoutePrefix,
				TenantID:    b.TenantID,
				IsActive:    b.IsActive,
			})
		}
		policyEngine.SetBindings(live)
	}

	// Aggregator config
	aggCfg := engine.AggregatorConfig{
		BlockThreshold:      blockThreshold,
		ChallengeThreshold:  challengeThreshold,
		MinThreatConfidence: 0.5,
	}

	// The gate ties the hot path together; learning and alerting hang off
	// its decision stream.
	g := gate.New(scoringSvc, ruleLearner, policyEngine, aggCfg, writer, logger)
	g.AddHandler(gate.NewLearnerHandler(ruleLearner))
	g.AddHandler(gate.NewAlertHandler(dispatcher))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g.Start(rootCtx)
	go ruleLearner.Run(rootCtx)
	go deliveryWorker.Run(rootCtx)

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Authenticator
	authenticator := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
		DB:       db,
		CacheTTL: time.Duration(cacheTTL) * time.Second,
		Logger:   logger,
	})

	// HTTP API server
	deps := &api.Dependencies{
		Store:      pgStore,
		Gate:       g,
		Rules:      ruleLearner,
		Alerts:     dispatcher,
		Deliveries: pgStore,
		Policy:     policyEngine,
		Auth:       authenticator,
		Reader:     chReader,
		Logger:     logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	<-rootCtx.Done()
	logger.Info("received signal, shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("aegis server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
