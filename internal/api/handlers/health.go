package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus is the state of the collector or one of its dependencies.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 5 * time.Second

// Component names accepted by GET /health/:component.
const (
	componentDatabase = "db"
	componentQueue    = "queue"
)

// ComponentHealth is the outcome of probing one dependency.
type ComponentHealth struct {
	Status    HealthStatus   `json:"status"`
	LatencyMS int64          `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// HealthReport is the body of every health endpoint.
type HealthReport struct {
	Status HealthStatus                `json:"status"`
	Checks map[string]*ComponentHealth `json:"checks,omitempty"`
}

// DatabaseHealthChecker is the store as seen by the health endpoints.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// QueueHealthChecker checks the Redis command mailbox. It is nil when the
// collector keeps commands in memory.
type QueueHealthChecker interface {
	Ping(ctx context.Context) error
}

// probe checks one dependency. A non-empty failure is reported verbatim to
// the client while err goes to the log only.
type probe func(ctx context.Context) (details map[string]any, failure string, err error)

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	order  []string
	probes map[string]probe
	logger zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. queue may be nil.
func NewHealthHandler(db DatabaseHealthChecker, queue QueueHealthChecker, logger zerolog.Logger) *HealthHandler {
	h := &HealthHandler{
		order:  []string{componentDatabase, componentQueue},
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
	h.probes = map[string]probe{
		componentDatabase: databaseProbe(db),
		componentQueue:    queueProbe(queue),
	}
	return h
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Ready)
		health.GET("/live", h.Live)
		health.GET("/:component", h.Component)
	}
}

// Live reports that the process serves requests. It checks nothing else.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthReport{Status: HealthStatusHealthy})
}

// Ready probes every dependency.
// GET /health
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := HealthReport{
		Status: HealthStatusHealthy,
		Checks: make(map[string]*ComponentHealth, len(h.order)),
	}
	for _, name := range h.order {
		result := h.run(ctx, name)
		report.Checks[name] = result
		if result.Status == HealthStatusUnhealthy {
			report.Status = HealthStatusUnhealthy
		}
	}

	c.JSON(statusCode(report.Status), report)
}

// Component probes a single dependency.
// GET /health/:component
func (h *HealthHandler) Component(c *gin.Context) {
	name := c.Param("component")
	if _, ok := h.probes[name]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown component"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	result := h.run(ctx, name)
	c.JSON(statusCode(result.Status), HealthReport{
		Status: result.Status,
		Checks: map[string]*ComponentHealth{name: result},
	})
}

func (h *HealthHandler) run(ctx context.Context, name string) *ComponentHealth {
	start := time.Now()
	details, failure, err := h.probes[name](ctx)
	result := &ComponentHealth{
		Status:    HealthStatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
		Details:   details,
	}
	if failure != "" {
		result.Status = HealthStatusUnhealthy
		result.Error = failure
		h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
	}
	return result
}

func statusCode(s HealthStatus) int {
	if s == HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func databaseProbe(db DatabaseHealthChecker) probe {
	return func(ctx context.Context) (map[string]any, string, error) {
		if db == nil {
			return nil, "database not configured", nil
		}
		if err := db.Ping(ctx); err != nil {
			return nil, "database ping failed", err
		}
		return db.Health(), "", nil
	}
}

func queueProbe(queue QueueHealthChecker) probe {
	return func(ctx context.Context) (map[string]any, string, error) {
		if queue == nil {
			return map[string]any{"backend": "memory"}, "", nil
		}
		if err := queue.Ping(ctx); err != nil {
			return map[string]any{"backend": "redis"}, "redis unreachable", err
		}
		return map[string]any{"backend": "redis"}, "", nil
	}
}
