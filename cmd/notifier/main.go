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

	"github.com/gofiber/fiber/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ureca/billing-notifier/internal/broker"
	"github.com/ureca/billing-notifier/internal/channel"
	"github.com/ureca/billing-notifier/internal/config"
	"github.com/ureca/billing-notifier/internal/dedup"
	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/handler"
	"github.com/ureca/billing-notifier/internal/infra/postgresql"
	"github.com/ureca/billing-notifier/internal/infra/postgresql/migrations"
	infraredis "github.com/ureca/billing-notifier/internal/infra/redis"
	"github.com/ureca/billing-notifier/internal/observability"
	"github.com/ureca/billing-notifier/internal/policy"
	"github.com/ureca/billing-notifier/internal/processor"
	"github.com/ureca/billing-notifier/internal/repository"
	"github.com/ureca/billing-notifier/internal/scheduler"
	"github.com/ureca/billing-notifier/internal/service"
	"github.com/ureca/billing-notifier/internal/transport"
	"github.com/ureca/billing-notifier/internal/waitqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	notifications := repository.NewGormNotificationRepo(db)
	preferences := repository.NewGormPreferenceRepo(db)

	detector, err := dedup.NewDetector(rdb, time.Duration(cfg.DedupTTLHours)*time.Hour, logger)
	if err != nil {
		logger.Fatal("dedup detector initialization failed", zap.Error(err))
	}

	waiting, err := waitqueue.NewQueue(rdb, logger)
	if err != nil {
		logger.Fatal("waiting queue initialization failed", zap.Error(err))
	}

	systemWindow, err := policy.NewWindow(cfg.SystemQuietStart, cfg.SystemQuietEnd)
	if err != nil {
		logger.Fatal("system quiet window is invalid", zap.Error(err))
	}
	snapshot := policy.NewSnapshotHolder(preferences)
	resolver := policy.NewResolver(systemWindow, snapshot)

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Fatal("channel registry initialization failed", zap.Error(err))
	}

	publisher, err := broker.NewPublisher(cfg.BrokerList(), logger)
	if err != nil {
		logger.Fatal("kafka publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	proc, err := processor.New(
		registry,
		detector,
		resolver,
		waiting,
		notifications,
		publisher,
		metrics,
		logger,
		processor.Options{
			WorkerCount: cfg.WorkerCount,
			MaxRetries:  cfg.MaxRetries,
			SendTimeout: time.Duration(cfg.SendTimeoutMS) * time.Millisecond,
		},
	)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}
	proc.WithRateLimiter(limiter)

	recorder, err := processor.NewDeadLetterRecorder(notifications, metrics, logger, cfg.MaxRetries)
	if err != nil {
		logger.Fatal("dead letter recorder initialization failed", zap.Error(err))
	}

	drainer, err := scheduler.NewWaitingDrainer(
		waiting,
		proc,
		metrics,
		time.Duration(cfg.WaitingDrainIntervalSec)*time.Second,
		cfg.WaitingDrainLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("waiting drainer initialization failed", zap.Error(err))
	}

	retryScanner, err := scheduler.NewRetryScanner(
		notifications,
		publisher,
		metrics,
		time.Duration(cfg.RetryScanIntervalSec)*time.Second,
		cfg.MaxRetries,
		cfg.RetryScanLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	prefRefresher, err := scheduler.NewPrefRefresher(
		snapshot,
		time.Duration(cfg.PrefRefreshIntervalSec)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("preference refresher initialization failed", zap.Error(err))
	}

	prefService, err := service.NewPreferenceService(preferences, snapshot, logger)
	if err != nil {
		logger.Fatal("preference service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "billing-notifier",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb, cfg.BrokerList())
	if err := handler.RegisterAdminRoutes(app, waiting, retryScanner, notifications, cfg.MaxRetries); err != nil {
		logger.Fatal("admin route registration failed", zap.Error(err))
	}
	if err := handler.RegisterPreferenceRoutes(app, prefService); err != nil {
		logger.Fatal("preference route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	flushInterval := time.Duration(cfg.BatchFlushIntervalMS) * time.Millisecond
	handle := func(ctx context.Context, msgs []kafka.Message, ack func(context.Context) error) error {
		records := make([]processor.Record, 0, len(msgs))
		for _, msg := range msgs {
			records = append(records, processor.Record{
				Value:     msg.Value,
				Attempt:   broker.Attempt(msg),
				Partition: msg.Partition,
				Offset:    msg.Offset,
			})
		}
		return proc.Process(ctx, records, ack)
	}

	for i := 0; i < cfg.ConsumerConcurrency; i++ {
		consumerID := i + 1
		reader := broker.NewReader(cfg.BrokerList(), broker.TopicBillingEvent, broker.GroupNotification)
		consumer := broker.NewBatchConsumer(reader, cfg.BatchSize, flushInterval, logger)

		g.Go(func() error {
			defer reader.Close()
			logger.Info("billing consumer started",
				zap.Int("consumerId", consumerID),
				zap.String("topic", broker.TopicBillingEvent),
			)
			return consumer.Run(groupCtx, handle)
		})
	}

	retryReader := broker.NewReader(cfg.BrokerList(), broker.TopicRetry, broker.GroupNotification)
	retryConsumer := broker.NewBatchConsumer(retryReader, cfg.BatchSize, flushInterval, logger)
	g.Go(func() error {
		defer retryReader.Close()
		logger.Info("retry consumer started", zap.String("topic", broker.TopicRetry))
		return retryConsumer.Run(groupCtx, handle)
	})

	dltReader := broker.NewReader(cfg.BrokerList(), broker.TopicDeadLetter, broker.GroupDeadLetter)
	dltConsumer := broker.NewDeadLetterConsumer(dltReader, recorder, logger)
	g.Go(func() error {
		defer dltReader.Close()
		logger.Info("dead letter consumer started", zap.String("topic", broker.TopicDeadLetter))
		return dltConsumer.Run(groupCtx)
	})

	g.Go(func() error { return drainer.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return prefRefresher.Start(groupCtx) })

	g.Go(func() error {
		logger.Info("admin api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("admin api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}
	g.Go(func() error {
		logger.Info("metrics server started", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("billing-notifier started",
		zap.Strings("brokers", cfg.BrokerList()),
		zap.Int("consumers", cfg.ConsumerConcurrency),
		zap.Int("batchSize", cfg.BatchSize),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("billing-notifier stopped with error", zap.Error(err))
	}
	logger.Info("billing-notifier stopped")
}

func buildRegistry(cfg *config.Config) (*channel.Registry, error) {
	registry := channel.NewRegistry()

	gateways := map[domain.Channel]string{
		domain.ChannelEmail: cfg.EmailGatewayURL,
		domain.ChannelSMS:   cfg.SMSGatewayURL,
		domain.ChannelPush:  cfg.PushGatewayURL,
	}
	for ch, endpoint := range gateways {
		gw, err := channel.NewGatewayHandler(ch, endpoint)
		if err != nil {
			return nil, fmt.Errorf("gateway for %s: %w", ch, err)
		}
		if err := registry.Register(gw); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
