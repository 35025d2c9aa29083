/**
 * @description
 * This is the main entry point for the banking-service. It is responsible for
 * initializing all components of the service, including configuration, logging, the
 * account store, message brokers, Redis, the core application service, the settlement
 * consumer, the card spend reset jobs and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiting and idempotency storage.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/kafka: Event publishing and settlement consumption.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/banking-service/internal/api"
	"github.com/transfa/banking-service/internal/app"
	"github.com/transfa/banking-service/internal/config"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"github.com/transfa/banking-service/internal/store/memstore"
	"github.com/transfa/banking-service/pkg/kafka"
	"github.com/transfa/banking-service/pkg/rabbitmq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using process environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting banking-service",
		zap.String("port", cfg.ServerPort),
		zap.String("storage", cfg.StorageDriver),
		zap.String("event_broker", cfg.EventBroker),
	)
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Warn("internal api key not configured; admin endpoints require an admin token", zap.String("env", "INTERNAL_API_KEY"))
	}

	repository, closeStore := openStore(cfg, logger)
	defer closeStore()

	publisher := openPublisher(cfg, logger)
	defer publisher.Close()

	service := app.NewService(repository, publisher, app.Options{
		Fees: domain.FeeSchedule{
			ACH:           cfg.ACHFeeCents,
			Wire:          cfg.WireFeeCents,
			International: cfg.InternationalFeeCents,
		},
		RoutingNumber: cfg.RoutingNumber,
		Exchange:      cfg.EventExchange,
		CardDefaults: app.CardDefaults{
			DailyLimit:   cfg.CardDailyLimitCents,
			MonthlyLimit: cfg.CardMonthlyLimitCents,
		},
	}, logger)

	var limiter api.RateLimiter
	var idempotency api.IdempotencyStore
	if redisClient := openRedis(cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
		idempotency = app.NewRedisIdempotencyStore(redisClient, cfg.RedisKeyPrefix, time.Duration(cfg.IdempotencyTTLMinutes)*time.Minute)
	}

	// Settlement updates arrive over RabbitMQ regardless of the outbound broker.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq consumer unavailable; external transfers will stay pending", zap.Error(err))
		} else {
			defer consumer.Close()
			settlement := app.NewSettlementConsumer(repository, publisher, cfg.EventExchange, logger)
			if err := consumer.ConsumeWithBindings(cfg.EventExchange, cfg.SettlementQueue, settlement.Bindings()); err != nil {
				logger.Fatal("settlement consumer start failed", zap.Error(err))
			}
			logger.Info("settlement consumer started", zap.String("queue", cfg.SettlementQueue))
		}
	}

	scheduler := app.NewScheduler(app.NewJobs(repository, logger), logger, app.Schedules{
		DailyReset:   cfg.CardDailyResetSchedule,
		MonthlyReset: cfg.CardMonthlyResetSchedule,
	})
	if err := scheduler.Start(); err != nil {
		logger.Warn("card spend reset jobs not scheduled", zap.Error(err))
	}

	authenticate := api.ClerkAuthMiddleware(api.NewJWKSCache(cfg.ClerkJWKSURL, 10*time.Minute), logger)
	router := api.NewRouter(api.NewHandlers(service, logger), api.RouterConfig{
		AdminRole:         cfg.AdminRole,
		InternalAPIKey:    cfg.InternalAPIKey,
		RequestTimeout:    time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		TransferRateLimit: cfg.TransferRateLimitPerMinute,
	}, authenticate, limiter, idempotency, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("card spend reset job still running at shutdown")
	}

	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(parsed)
	return zapConfig.Build()
}

// openStore returns the configured repository and a function releasing it.
func openStore(cfg config.Config, logger *zap.Logger) (store.Repository, func()) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}
	}

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("database connected")

	return store.NewPostgresRepository(dbpool), dbpool.Close
}

// openPublisher never fails: an unreachable broker degrades to dropping events.
func openPublisher(cfg config.Config, logger *zap.Logger) rabbitmq.Publisher {
	switch cfg.EventBroker {
	case "kafka":
		producer, err := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic, logger)
		if err != nil {
			logger.Warn("kafka producer unavailable; events will be dropped", zap.Error(err))
			return &rabbitmq.NoopPublisher{Logger: logger}
		}
		logger.Info("kafka producer configured", zap.String("topic", cfg.KafkaTopic))
		return producer
	case "rabbitmq":
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; events will be dropped", zap.Error(err))
			return &rabbitmq.NoopPublisher{Logger: logger}
		}
		logger.Info("rabbitmq producer connected")
		return producer
	default:
		return &rabbitmq.NoopPublisher{Logger: logger}
	}
}

func openRedis(redisURL string, logger *zap.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; rate limiting and idempotency keys disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting and idempotency keys disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting and idempotency keys disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
