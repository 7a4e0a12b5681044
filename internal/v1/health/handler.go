// Package health exposes the Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
)

// ReadyChecker reports whether the token verifier can currently verify
// tokens (key material fetched, upstream reachable).
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// StatsSource reports the registry's current size for the readiness body.
type StatsSource interface {
	Stats() (rooms, members int)
}

// Handler manages the health check endpoints.
type Handler struct {
	verifier ReadyChecker // nil when auth is disabled
	stats    StatsSource
}

// NewHandler creates a health handler. verifier may be nil (auth disabled),
// in which case the auth check always reports healthy.
func NewHandler(verifier ReadyChecker, stats StatsSource) *Handler {
	return &Handler{verifier: verifier, stats: stats}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Members   int               `json:"members"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 whenever the process is
// alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 when the relay can admit
// new connections: the token verifier has usable key material. 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	checks["auth"] = h.checkAuth(ctx)
	if checks["auth"] != "healthy" {
		allHealthy = false
	}

	var rooms, members int
	if h.stats != nil {
		rooms, members = h.stats.Stats()
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     rooms,
		Members:   members,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkAuth(ctx context.Context) string {
	// Auth disabled: nothing to probe.
	if h.verifier == nil {
		return "healthy"
	}
	if err := h.verifier.Ready(ctx); err != nil {
		logging.Error(ctx, "Auth readiness check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
