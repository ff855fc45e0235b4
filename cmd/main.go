package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/api"
	"github.com/akylbek/payment-system/bill-reconciler/internal/config"
	"github.com/akylbek/payment-system/bill-reconciler/internal/events"
	"github.com/akylbek/payment-system/bill-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/notify"
	"github.com/akylbek/payment-system/bill-reconciler/internal/repository"
	"github.com/akylbek/payment-system/bill-reconciler/internal/service"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry("bill-reconciler", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())
	telemetry.InitMetrics()

	telemetry.Logger.Info("Starting Bill Reconciler")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repository
	repo := repository.NewBillRepository(db)
	if err := repo.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	gatewayClient, err := gateway.NewClient(cfg.MidtransServerKey, cfg.MidtransProduction)
	if err != nil {
		telemetry.Logger.Fatal("Failed to configure payment gateway", zap.Error(err))
	}

	opts := []service.Option{
		service.WithMaxAttempts(cfg.ReconcileMaxAttempts),
		service.WithTimeouts(cfg.StorageTimeout, cfg.NotifyTimeout),
		service.WithAsyncDispatch(true),
	}

	// Connect to Redis
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		opts = append(opts, service.WithLocker(repository.NewRedisBillLocker(redisClient), cfg.BillLockTTL))
	}

	// Connect to NATS
	var notifier interfaces.Notifier
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		notifier = notify.NewNATSNotifier(nc, cfg.NotifyTimeout)
	} else {
		telemetry.Logger.Warn("NATS_URL not set, push notifications disabled")
	}

	// Connect to Kafka
	if len(cfg.KafkaBrokers) > 0 {
		kafkaWriter := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer kafkaWriter.Close()
		opts = append(opts, service.WithPublisher(events.NewKafkaPublisher(kafkaWriter)))
	}

	orchestrator := service.NewOrchestrator(repo, gatewayClient, notifier, opts...)
	checkout := service.NewCheckoutService(repo, gatewayClient, nil)
	interpreter := gateway.NewInterpreter(gateway.WithServerKey(cfg.MidtransServerKey))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		reader := service.NewGatewayNotificationReader(cfg.KafkaBrokers)
		go func() {
			defer close(consumerDone)
			orchestrator.ConsumeGatewayNotifications(ctx, reader, interpreter)
		}()
	} else {
		close(consumerDone)
	}

	r := api.NewRouter(api.Dependencies{
		Store:        repo,
		Orchestrator: orchestrator,
		Checkout:     checkout,
		Parser:       interpreter,
		JWTSecret:    []byte(cfg.JWTSecret),
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Bill Reconciler starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	telemetry.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-consumerDone
	orchestrator.Wait()

	telemetry.Logger.Info("Server exited")
}
