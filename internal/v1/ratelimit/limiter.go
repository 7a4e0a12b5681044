package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/config"
	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
)

// ConnectionLimiter gates WebSocket upgrade attempts per client IP. The
// per-frame relay limit is a separate concern handled by Window.
type ConnectionLimiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewConnectionLimiter creates a ConnectionLimiter from the configured rate.
// With a Redis client the limit is shared across replicas; otherwise an
// in-memory store is used.
func NewConnectionLimiter(cfg *config.Config, redisClient *redis.Client) (*ConnectionLimiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(cfg.ConnectRateIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Connect limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Connect limiter using memory store")
	}

	return &ConnectionLimiter{
		wsIP:  limiter.New(store, ipRate),
		store: store,
	}, nil
}

// AllowUpgrade checks the per-IP connect limit for an upgrade request.
// Returns false after writing the 429 response. Store failures fail open:
// availability beats strict limiting here.
func (rl *ConnectionLimiter) AllowUpgrade(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Connect limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitDenials.WithLabelValues("connect_ip").Inc()
		metrics.UpgradeRejections.WithLabelValues("connect_rate").Inc()
		logging.Warn(ctx, "Upgrade denied by connect limiter", zap.String("ip", ip))
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
