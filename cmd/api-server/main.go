package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/api"
	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
	"github.com/hackgods/dental-appointment-scheduling/internal/config"
	"github.com/hackgods/dental-appointment-scheduling/internal/db"
	"github.com/hackgods/dental-appointment-scheduling/internal/logging"
	"github.com/hackgods/dental-appointment-scheduling/internal/metrics"
	"github.com/hackgods/dental-appointment-scheduling/internal/notification"
	redisclient "github.com/hackgods/dental-appointment-scheduling/internal/redis"
)

const version = "1.0.0"

// store is everything the server needs from a storage backend.
type store interface {
	appointment.Repository
	appointment.PatientDirectory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("overlap_scope", cfg.OverlapScope),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Connect Redis
	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisDayLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		// only safe with a single api-server instance
		locker = redisclient.NewLocalLocker()
		logger.Warn("REDIS_ADDR not set, booking lock is process-local")
	}

	collector := metrics.NewCollector("dental_scheduler")

	// Notification channel
	var (
		sender    notification.Sender
		publisher *notification.WhatsAppPublisher
	)
	if cfg.RabbitMQURL != "" {
		publisher = notification.NewWhatsAppPublisher(cfg.RabbitMQURL, cfg.NotificationQueue, cfg.NotifyMaxRetries, logger.Named("whatsapp"))
		publisher.Start(rootCtx)
		defer func() { _ = publisher.Close() }()
		sender = notification.NewBreakerSender(publisher, uint32(cfg.BreakerFailures), cfg.BreakerCooldown, logger.Named("breaker"))
	} else {
		logger.Warn("RABBITMQ_URL not set, booking confirmations are only logged")
		sender = notification.NewLogSender(logger.Named("notification"))
	}
	dispatcher := notification.NewDispatcher(sender, cfg.NotifyTimeout, cfg.NotifyBuffer, cfg.NotifyWorkers,
		logger.Named("dispatcher"), collector, notification.WithSendRate(float64(cfg.NotifyRatePerSec), cfg.NotifyRatePerSec))

	svc := appointment.NewService(repo, repo, locker, dispatcher, cfg, logger.Named("scheduler"),
		appointment.WithMetrics(collector))

	routerCfg := api.RouterConfig{
		Service:            svc,
		Store:              svc,
		Redis:              rdb,
		Metrics:            collector,
		Logger:             logger.Named("http"),
		Env:                cfg.Env,
		Version:            version,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
	}
	if publisher != nil {
		routerCfg.Notifier = publisher
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pending booking confirmations abandoned", zap.Error(err))
	}

	logger.Info("api-server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection error: %w", err)
		}
		if err := db.EnsureSchema(connectCtx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("connected to Postgres")
		return appointment.NewPgRepository(pool), pool.Close, nil

	case config.StoreDriverMongo:
		client, err := db.ConnectMongo(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection error: %w", err)
		}
		repo := appointment.NewMongoRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		logger.Warn("using in-memory store, data is lost on restart")
		return appointment.NewMemoryRepository(), func() {}, nil
	}
}
