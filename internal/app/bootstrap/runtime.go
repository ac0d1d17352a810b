package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-core/internal/availability"
	appconfig "github.com/wolfman30/booking-core/internal/config"
	"github.com/wolfman30/booking-core/internal/observability/metrics"
	"github.com/wolfman30/booking-core/internal/reservations"
	"github.com/wolfman30/booking-core/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	options := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(options)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, hold velocity guard disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL. An empty URL returns nil.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// ReservationConfig maps application settings onto the manager's knobs.
func ReservationConfig(cfg *appconfig.Config) reservations.Config {
	rc := reservations.DefaultConfig()
	if cfg == nil {
		return rc
	}
	if cfg.HoldTTL > 0 {
		rc.HoldTTL = cfg.HoldTTL
	}
	if cfg.PayLaterLead > 0 {
		rc.PayLaterLead = cfg.PayLaterLead
	}
	if cfg.DefaultBookingDelayMinutes > 0 {
		rc.DefaultBookingDelay = time.Duration(cfg.DefaultBookingDelayMinutes) * time.Minute
	}
	if cfg.OverlapBuffer > 0 {
		rc.OverlapBuffer = cfg.OverlapBuffer
	}
	return rc
}

// BuildManager wires the reservation manager over the given store and
// availability source. A nil redis client disables the velocity guard.
func BuildManager(cfg *appconfig.Config, store reservations.Store, repo availability.Repository, redisClient *redis.Client, bm *metrics.BookingMetrics, logger *logging.Logger) *reservations.Manager {
	manager := reservations.NewManager(store, repo, ReservationConfig(cfg), logger).WithMetrics(bm)
	if redisClient != nil {
		velocity := reservations.DefaultVelocityConfig()
		if cfg != nil {
			if cfg.HoldVelocityMax > 0 {
				velocity.MaxHolds = cfg.HoldVelocityMax
			}
			if cfg.HoldVelocityWindow > 0 {
				velocity.Window = cfg.HoldVelocityWindow
			}
		}
		manager.WithLimiter(reservations.NewHoldVelocity(redisClient, velocity, logger))
	}
	return manager
}
