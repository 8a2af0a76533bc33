package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/analytics"
	"github.com/trogers1052/bot-copy-service/internal/api"
	"github.com/trogers1052/bot-copy-service/internal/config"
	"github.com/trogers1052/bot-copy-service/internal/database"
	"github.com/trogers1052/bot-copy-service/internal/dispatch"
	"github.com/trogers1052/bot-copy-service/internal/engine"
	"github.com/trogers1052/bot-copy-service/internal/intake"
	"github.com/trogers1052/bot-copy-service/internal/kafka"
	"github.com/trogers1052/bot-copy-service/internal/logging"
	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
	"github.com/trogers1052/bot-copy-service/internal/redis"
	"github.com/trogers1052/bot-copy-service/internal/scheduler"
	"github.com/trogers1052/bot-copy-service/internal/subscription"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.Database.MigrationsDir, cfg.Database.ConnectionString(), logger); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL database")

	// Connect to Redis
	var (
		redisClient *redis.Client
		cache       analytics.Cache
		cachePinger api.Pinger
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			cache, cachePinger = redisClient, redisClient
			logger.Info("connected to Redis cache", zap.String("addr", cfg.Redis.Address()))
		}
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Execution and fan-out
	opts := []dispatch.Option{
		dispatch.WithParallelism(cfg.Engine.FanOutParallelism),
		dispatch.WithMaxSignalAge(cfg.Signals.MaxAge),
		dispatch.WithMetrics(m),
	}
	var producer *kafka.TradeProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewTradeProducer(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic)
		opts = append(opts, dispatch.WithNotifier(producer))
		logger.Info("trade producer initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.TradesTopic),
		)
	}
	dispatcher := dispatch.NewDispatcher(db, db, engine.New(db, logger), logger, opts...)

	queue := dispatch.NewQueue(dispatcher, cfg.Engine.QueueSize, cfg.Engine.Workers, logger, m)
	if redisClient != nil {
		queue.OnResult = func(res models.FanOutResult, err error) {
			if err != nil || res.Succeeded == 0 {
				return
			}
			if err := redisClient.InvalidateBotMetrics(context.Background(), res.BotID); err != nil {
				logger.Warn("failed to invalidate bot metrics", zap.String("bot_id", res.BotID.String()), zap.Error(err))
			}
		}
	}
	queue.Start(ctx)

	signals := intake.New(db, queue, logger, m)

	// Kafka signal consumer
	var consumer *kafka.SignalConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = kafka.NewSignalConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.SignalsTopic,
			cfg.Kafka.ConsumerGroup,
			signals,
			logger,
			m,
		)
		go func() {
			logger.Info("starting signal consumer",
				zap.String("topic", cfg.Kafka.SignalsTopic),
				zap.String("group", cfg.Kafka.ConsumerGroup),
			)
			if err := consumer.Start(ctx); err != nil {
				logger.Error("signal consumer stopped", zap.Error(err))
			}
		}()
	}

	// Signal retention
	cron := scheduler.New(ctx, logger)
	if _, err := cron.Add(cfg.Signals.CleanupSchedule, scheduler.SignalRetention(db, cfg.Signals.Retention, logger, m)); err != nil {
		logger.Fatal("invalid signal cleanup schedule",
			zap.String("schedule", cfg.Signals.CleanupSchedule),
			zap.Error(err),
		)
	}
	cron.Start()

	// Set up HTTP handler and routes
	handler := api.NewHandler(api.Deps{
		Subscriptions:   subscription.NewService(db, logger),
		Analytics:       analytics.New(db, cache, cfg.Analytics.CacheTTL, logger),
		Intake:          signals,
		Database:        db,
		Cache:           cachePinger,
		Logger:          logger,
		SignalRateLimit: cfg.Signals.RateLimit,
		SignalRateBurst: cfg.Signals.RateBurst,
	})
	router := api.SetupRoutes(handler, reg)

	// Create HTTP server
	addr := cfg.Server.Address()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop intake first so nothing new reaches the queue
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("error closing signal consumer", zap.Error(err))
		}
	}

	logger.Info("draining dispatch queue", zap.Int("pending", queue.Len()))
	queue.Close()
	cron.Stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("error closing trade producer", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func runMigrations(source, databaseURL string, logger *zap.Logger) error {
	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply, database is up to date")
		return nil
	}
	return err
}
