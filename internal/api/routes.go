// Package api wires the collector's HTTP routes.
package api

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/api/handlers"
	"github.com/MacJediWizard/bpcmon/internal/api/middleware"
	"github.com/MacJediWizard/bpcmon/internal/auth"
	"github.com/MacJediWizard/bpcmon/internal/commands"
	"github.com/MacJediWizard/bpcmon/internal/crypto"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// DashboardURL is returned to agents on registration.
	DashboardURL string
	// RateLimitRequests is the number of requests allowed per period and client IP.
	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		DashboardURL:      "http://localhost:8080",
		RateLimitRequests: 600,
		RateLimitPeriod:   time.Minute,
		MaxBodyBytes:      middleware.DefaultMaxBodyBytes,
	}
}

// Store is the persistence the collector's handlers need. *db.DB implements it.
type Store interface {
	handlers.AgentAPIStore
	handlers.SiteStore
	handlers.DatabaseHealthChecker
}

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Store     Store
	Mailbox   commands.Mailbox
	Keys      *crypto.KeyManager
	Events    handlers.EventPublisher
	Hub       handlers.ChannelServer
	Operators *auth.Authenticator
	Sessions  *auth.SessionStore
	Metrics   *metrics.PrometheusMetrics
	Gatherer  prometheus.Gatherer

	// Queue is checked by /health when commands live in Redis. Leave nil otherwise.
	Queue handlers.QueueHealthChecker
	// Redis, when set, holds rate limit counters shared between collector instances.
	Redis redis.UniversalClient
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, deps.Redis)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	if err := r.Engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger, deps.Metrics))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))

	// Health and metrics (no auth required)
	handlers.NewHealthHandler(deps.Store, deps.Queue, logger).RegisterPublicRoutes(r.Engine)
	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	}

	// Operator login
	handlers.NewAuthHandler(deps.Operators, deps.Sessions, logger).RegisterPublicRoutes(r.Engine)

	// Agent endpoints authenticate with the credentials in the request body.
	agentGroup := r.Engine.Group("/api/agent", rateLimiter)
	agentHandler := handlers.NewAgentAPIHandler(
		deps.Store, deps.Mailbox, deps.Keys, deps.Events, deps.Metrics, cfg.DashboardURL, logger,
	)
	agentHandler.RegisterRoutes(agentGroup)

	// Operator endpoints
	requireAdmin := middleware.RequireAdmin(deps.Sessions, logger)

	commandsHandler := handlers.NewAgentCommandsHandler(deps.Store, deps.Mailbox, deps.Events, deps.Metrics, logger)
	commandsHandler.RegisterRoutes(r.Engine.Group("/api/agent", requireAdmin))

	sitesHandler := handlers.NewSitesHandler(deps.Store, deps.Keys, crypto.GenerateAgentToken, logger)
	sitesHandler.RegisterRoutes(r.Engine.Group("/api", requireAdmin))

	wsHandler := handlers.NewWebSocketHandler(deps.Store, deps.Hub, logger)
	wsHandler.RegisterRoutes(r.Engine.Group("/ws", requireAdmin))

	r.logger.Debug().Int("routes", len(r.Engine.Routes())).Msg("routes registered")
	return r, nil
}
