/**
 * @description
 * This is the main entry point for the payments-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external clients, message brokers, repositories, the webhook
 * processing pipeline, the retry worker, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for alert throttling.
 * - internal/api, internal/app, internal/config, internal/store, internal/worker: Internal packages.
 * - pkg/alerting, pkg/draftclient, pkg/rabbitmq: Outbound clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/curaline/payments-service/internal/api"
	"github.com/curaline/payments-service/internal/app"
	"github.com/curaline/payments-service/internal/config"
	"github.com/curaline/payments-service/internal/store"
	"github.com/curaline/payments-service/internal/worker"
	"github.com/curaline/payments-service/pkg/alerting"
	"github.com/curaline/payments-service/pkg/draftclient"
	"github.com/curaline/payments-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook signing secret must be configured\" env=STRIPE_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for customer notification events.
	// Publishing is best-effort; the webhook path never depends on it.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs alert throttling only. A missing or unreachable Redis
	// degrades to unthrottled alerts, never to a boot failure.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; alert throttling disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; alert throttling disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the operator alerting client.
	var alerts app.AlertNotifier
	if strings.TrimSpace(cfg.AlertWebhookURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"alert webhook not configured; alerts degrade to logs\" env=ALERT_WEBHOOK_URL")
		alerts = alerting.NoopNotifier{}
	} else {
		var alertOpts []alerting.Option
		if redisClient != nil {
			alertOpts = append(alertOpts, alerting.WithThrottle(redisClient, cfg.AlertThrottlePrefix, cfg.AlertThrottlePerMinute, time.Minute))
		}
		alerts = alerting.NewClient(cfg.AlertWebhookURL, alertOpts...)
	}

	// Initialize the client for the clinical draft service.
	drafts := draftclient.NewClient(cfg.DraftServiceURL, cfg.DraftServiceAPIKey)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool, log.Printf)

	// Assemble the webhook processing pipeline.
	verifier := app.NewVerifier(cfg.StripeWebhookSecret, time.Duration(cfg.SignatureToleranceSeconds)*time.Second)
	escalator := app.NewEscalator(repository, alerts, cfg.DeadLetterRetryThreshold)
	dispatcher := app.NewDispatcher(
		repository,
		drafts,
		producer,
		time.Duration(cfg.DraftTimeoutSeconds)*time.Second,
		time.Duration(cfg.RetryInitialDelayMinutes)*time.Minute,
	)
	processor := app.NewProcessor(repository, escalator, dispatcher)

	// Initialize the API handlers and router.
	webhookHandler := api.NewWebhookHandler(verifier, processor)
	adminHandlers := api.NewAdminHandlers(repository)
	router := api.NewRouter(webhookHandler, adminHandlers, api.RouterConfig{
		OpsJWKSURL:        cfg.OpsJWKSURL,
		OpsAllowedOrigins: splitOrigins(cfg.OpsAllowedOrigins),
	})

	// Start the side-effect retry worker on its cron schedule.
	workerLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "retry_worker")
	retryJob := worker.NewRetryJob(repository, drafts, alerts, workerLogger, worker.RetryOptions{
		BatchSize:      cfg.RetryBatchSize,
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: time.Duration(cfg.RetryInitialDelayMinutes) * time.Minute,
		AttemptTimeout: time.Duration(cfg.DraftTimeoutSeconds) * time.Second,
	})
	scheduler := worker.NewScheduler(retryJob, workerLogger, cfg.RetryWorkerSchedule)
	scheduler.Start()

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	// Stop scheduling new retry runs and let in-flight ones finish.
	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// splitOrigins turns the comma-separated OPS_ALLOWED_ORIGINS value into the
// slice the cors middleware expects.
func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
