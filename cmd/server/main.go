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

	"bookstore-service/config"
	"bookstore-service/internal/api"
	"bookstore-service/internal/broker"
	"bookstore-service/internal/notify"
	"bookstore-service/internal/redisclient"
	"bookstore-service/internal/service"
	"bookstore-service/internal/store"
	"bookstore-service/internal/util"
	"bookstore-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting bookstore service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.Migrate {
		if err := store.Migrate(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	var (
		idempotency service.IdempotencyCache
		relayLock   worker.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, idempotency keys and relay lease disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		idempotency = redisClient
		relayLock = redisClient
		logger.Info("Redis connected")
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize notifier", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	notificationService := service.NewNotificationService(db, notifier, cfg.Notification.SendTimeout)

	var publisher broker.Publisher
	switch cfg.Outbox.Transport {
	case config.TransportLocal:
		bus := broker.NewLocalBus(worker.NotificationHandler(notificationService), cfg.Outbox.BatchSize)
		publisher = bus
		g.Go(func() error { return bus.Start(gctx) })
		logger.Info("Using in-process event bus")

	case config.TransportKafka:
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		notificationWorker := worker.NewNotificationWorker(consumer, notificationService)
		g.Go(func() error { return notificationWorker.Start(gctx) })
		defer notificationWorker.Stop()
		logger.Info("Kafka producer and consumer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	default:
		logger.Fatal("Unknown event transport", zap.String("transport", cfg.Outbox.Transport))
	}

	relay := worker.NewOutboxRelay(db, publisher, relayLock, cfg.Outbox)
	g.Go(func() error { return relay.Start(gctx) })

	orderService := service.NewOrderService(db, idempotency, cfg.Redis.IdempotencyTTL, relay)
	adminService := service.NewAdminService(db, notificationService)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, adminService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notification.Provider {
	case config.ProviderSMTP:
		n, err := notify.NewSMTPNotifier(cfg.Mail)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.ProviderLog:
		return notify.NewLogNotifier(), nil
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Notification.Provider)
	}
}
