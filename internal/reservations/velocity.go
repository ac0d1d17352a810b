package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/booking-core/pkg/logging"
)

// VelocityConfig limits hold attempts per client.
type VelocityConfig struct {
	MaxHolds int
	Window   time.Duration
}

func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{MaxHolds: 5, Window: time.Hour}
}

// HoldVelocity counts hold attempts per client in Redis. It fails open when
// Redis is unavailable.
type HoldVelocity struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

func NewHoldVelocity(client *redis.Client, config VelocityConfig, logger *logging.Logger) *HoldVelocity {
	if logger == nil {
		logger = logging.Default()
	}
	return &HoldVelocity{redis: client, logger: logger, config: config}
}

func velocityKey(clientID string) string {
	return fmt.Sprintf("velocity:hold:%s", clientID)
}

// AllowHold records an attempt and reports whether it is within the limit.
func (v *HoldVelocity) AllowHold(ctx context.Context, clientID string) (bool, error) {
	if v == nil || v.redis == nil || v.config.MaxHolds <= 0 {
		return true, nil
	}
	ctx, span := tracer.Start(ctx, "velocity.check_hold")
	defer span.End()
	span.SetAttributes(attribute.String("booking.client_id", clientID))

	key := velocityKey(clientID)
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return true, nil
	}
	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, v.window())
	}

	if int(count) > v.config.MaxHolds {
		v.logger.Warn("hold velocity exceeded",
			"client_id", clientID,
			"count", count,
			"max", v.config.MaxHolds,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
		return false, nil
	}
	return true, nil
}

// Reset clears the counter of a client so its next hold starts a fresh window.
func (v *HoldVelocity) Reset(ctx context.Context, clientID string) error {
	return v.redis.Del(ctx, velocityKey(clientID)).Err()
}

func (v *HoldVelocity) window() time.Duration {
	if v.config.Window <= 0 {
		return time.Hour
	}
	return v.config.Window
}
