package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/happydotemdr/hookrelay/internal/backoff"
	"github.com/happydotemdr/hookrelay/internal/config"
	"github.com/happydotemdr/hookrelay/internal/dal/interfaces/ientryrepo"
	"github.com/happydotemdr/hookrelay/internal/dal/postgres"
	"github.com/happydotemdr/hookrelay/internal/dal/rabbitmq"
	"github.com/happydotemdr/hookrelay/internal/dal/redis"
	entrymemory "github.com/happydotemdr/hookrelay/internal/dal/repositories/entry/memory"
	entrypostgres "github.com/happydotemdr/hookrelay/internal/dal/repositories/entry/postgres"
	entryredis "github.com/happydotemdr/hookrelay/internal/dal/repositories/entry/redis"
	"github.com/happydotemdr/hookrelay/internal/delivery"
	"github.com/happydotemdr/hookrelay/internal/events"
	"github.com/happydotemdr/hookrelay/internal/otel"
	"github.com/happydotemdr/hookrelay/internal/service/services/queuesvc"
	httptransport "github.com/happydotemdr/hookrelay/internal/transport/http"
	deliveryworker "github.com/happydotemdr/hookrelay/internal/worker/delivery"
)

// App represents the application.
type App struct {
	queueSvc       *queuesvc.QueueService
	transport      *httptransport.HTTPTransport
	worker         *deliveryworker.Worker
	postgresClient *postgres.Client
	redisClient    *redis.Client
	rabbitMqClient *rabbitmq.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	a := &App{}
	a.otelController = otel.MustInitOtel()

	settings := config.MustQueueSettings()

	var repo ientryrepo.IEntryRepository
	switch driver := viper.GetString("store.driver"); driver {
	case "", "postgres":
		a.postgresClient = postgres.MustNewClient()
		repo = entrypostgres.NewEntryRepository(a.postgresClient)
	case "redis":
		a.redisClient = redis.MustNewClient()
		repo = entryredis.NewEntryRepository(a.redisClient)
	case "memory":
		repo = entrymemory.NewEntryRepository()
	default:
		panic("unknown store driver: " + driver)
	}

	sink := events.Sink(events.NewSlogSink())
	if viper.GetBool("rabbitmq.enabled") {
		a.rabbitMqClient = rabbitmq.MustNewClient()
		amqpSink, err := events.NewAMQPSink(a.rabbitMqClient)
		if err != nil {
			panic("failed to set up AMQP event sink: " + err.Error())
		}
		sink = events.NewMultiSink(events.NewSlogSink(), amqpSink)
	}

	client := delivery.NewClient(settings.WebhookURL, settings.WebhookTimeout, settings.WebhookSecret)

	a.queueSvc = queuesvc.MustNewQueueService(
		queuesvc.WithEntryRepository(repo),
		queuesvc.WithDeliveryClient(client),
		queuesvc.WithBackoffPolicy(backoff.NewPolicy(
			settings.BackoffBase,
			settings.BackoffMultiplier,
			settings.BackoffMax,
		)),
		queuesvc.WithEventSink(sink),
		queuesvc.WithMaxRetries(settings.MaxRetries),
		queuesvc.WithStaleAfter(settings.StaleAfter),
	)

	a.worker = deliveryworker.NewWorker(a.queueSvc)

	a.transport = httptransport.NewHTTPTransport(a.queueSvc)
	a.transport.RegisterRoutes()

	return a
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Starting delivery worker")
		a.worker.Start(gctx)
		return nil
	})

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()

	if err := g.Wait(); err != nil {
		slog.Error("Background task error", "error", err)
	}
}

// RunPassOnce executes a single queue pass for scheduler-driven invocations
// (cron, session-end hook). The returned error reflects a pass-level fault
// only; individual delivery failures are normal operation.
func (a *App) RunPassOnce(ctx context.Context) error {
	if _, err := a.queueSvc.ReclaimStale(ctx); err != nil {
		return err
	}
	if _, err := a.queueSvc.RunOnce(ctx); err != nil {
		return err
	}

	return nil
}

// gracefulShutdown performs graceful shutdown of all application components.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.worker.Stop()
	slog.Info("Delivery worker stopped gracefully")

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	a.Close()

	slog.Info("Application shutdown complete")
}

// Close releases every held connection.
func (a *App) Close() {
	if a.rabbitMqClient != nil {
		if err := a.rabbitMqClient.Close(); err != nil {
			slog.Error("RabbitMQ connection close error", "error", err)
		} else {
			slog.Info("RabbitMQ connection closed gracefully")
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			slog.Error("Redis connection close error", "error", err)
		} else {
			slog.Info("Redis connection closed gracefully")
		}
	}

	if a.postgresClient != nil {
		a.postgresClient.Close()
		slog.Info("Database connection closed gracefully")
	}

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	}
}
