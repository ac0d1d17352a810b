package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/booking-core/cmd/mainconfig"
	"github.com/wolfman30/booking-core/internal/api/router"
	"github.com/wolfman30/booking-core/internal/app/bootstrap"
	"github.com/wolfman30/booking-core/internal/availability"
	appconfig "github.com/wolfman30/booking-core/internal/config"
	"github.com/wolfman30/booking-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-core/internal/http/middleware"
	"github.com/wolfman30/booking-core/internal/jobs"
	"github.com/wolfman30/booking-core/internal/observability/metrics"
	"github.com/wolfman30/booking-core/internal/reservations"
	"github.com/wolfman30/booking-core/pkg/logging"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-core API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, all /v1 requests will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, bookingMetrics := setupMetrics()
	manager := bootstrap.BuildManager(cfg,
		reservations.NewPostgresStore(pool),
		availability.NewPostgresRepository(pool),
		redisClient, bookingMetrics, logger,
	)

	dispatcher, err := setupDispatcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure job dispatcher", "error", err)
		os.Exit(1)
	}
	workersDone := startWorkers(ctx, cfg, manager, jobs.NewPostgresStore(pool), dispatcher, logger)

	limiter := httpmiddleware.NewRateLimiter(10, 40)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)

	r := router.New(&router.Config{
		Logger:             logger,
		Booking:            handlers.NewBookingHandler(manager, logger),
		Health:             handlers.NewHealthHandler(healthChecks(pool)),
		MetricsHandler:     metricsHandler,
		AuthSecret:         cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	<-workersDone

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	bm := metrics.NewBookingMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), bm
}

// setupDispatcher sends due jobs to SQS when JOB_QUEUE_URL is set and logs
// them otherwise.
func setupDispatcher(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (jobs.Dispatcher, error) {
	if cfg.JobQueueURL == "" {
		logger.Info("JOB_QUEUE_URL not set, scheduled jobs will be logged only")
		return jobs.NewLogDispatcher(logger), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return jobs.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), cfg.JobQueueURL), nil
}

// startWorkers runs the expiry reaper and the job dispatcher until ctx ends.
// The returned channel closes once both have stopped.
func startWorkers(ctx context.Context, cfg *appconfig.Config, manager *reservations.Manager, source jobs.Source, dispatcher jobs.Dispatcher, logger *logging.Logger) <-chan struct{} {
	reaper := reservations.NewReaper(manager, logger).
		WithInterval(cfg.ReaperInterval).
		WithBatchSize(cfg.ReaperBatchSize)
	worker := jobs.NewWorker(source, dispatcher, logger).
		WithInterval(cfg.JobDispatchInterval).
		WithBatchSize(int32(cfg.JobBatchSize))

	done := make(chan struct{})
	go func() {
		defer close(done)
		finished := make(chan struct{}, 2)
		go func() { reaper.Start(ctx); finished <- struct{}{} }()
		go func() { worker.Start(ctx); finished <- struct{}{} }()
		<-finished
		<-finished
	}()
	return done
}

func healthChecks(pool *pgxpool.Pool) map[string]handlers.HealthCheck {
	if pool == nil {
		return nil
	}
	return map[string]handlers.HealthCheck{"postgres": pool.Ping}
}
