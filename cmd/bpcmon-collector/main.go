// Package main is the entrypoint for the bpcmon collector.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/api"
	"github.com/MacJediWizard/bpcmon/internal/api/handlers"
	"github.com/MacJediWizard/bpcmon/internal/auth"
	"github.com/MacJediWizard/bpcmon/internal/commands"
	"github.com/MacJediWizard/bpcmon/internal/config"
	"github.com/MacJediWizard/bpcmon/internal/crypto"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/httpclient"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/MacJediWizard/bpcmon/internal/monitoring"
	"github.com/MacJediWizard/bpcmon/internal/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadServerConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("environment", string(cfg.Environment)).
		Msg("Starting bpcmon collector")

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	masterKey, err := crypto.MasterKeyFromHex(cfg.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to decode ENCRYPTION_KEY")
		return 1
	}
	keyManager, err := crypto.NewKeyManager(masterKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize key manager")
		return 1
	}

	// Command mailbox: Redis when configured so several collectors share slots.
	var (
		mailbox     commands.Mailbox
		queueHealth handlers.QueueHealthChecker
		redisMB     *commands.RedisMailbox
	)
	if cfg.RedisURL != "" {
		redisMB, err = commands.NewRedisMailboxFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return 1
		}
		defer redisMB.Close()
		mailbox = redisMB
		queueHealth = redisMB
		logger.Info().Msg("Command mailbox backed by Redis")
	} else {
		memMB := commands.NewMemoryMailbox()
		mailbox = memMB
		go commands.NewSweepWorker(memMB, commands.DefaultSweepInterval, logger).Start(ctx)
		logger.Info().Msg("Command mailbox held in memory")
	}

	// Notifications
	hub := notifications.NewHub(notifications.DefaultHubConfig(), logger)
	var background []notifications.Sink
	if cfg.NotifyWebhookURL != "" {
		webhookClient, err := httpclient.New(httpclient.Options{
			Timeout:   notifications.DeliveryTimeout,
			UserAgent: "bpcmon-collector/" + Version,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create webhook client")
			return 1
		}
		background = append(background, notifications.NewWebhookSender(
			cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, webhookClient, logger,
		))
	}
	notifier := notifications.NewNotifier(logger, hub, background...)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	// Operator sessions
	sessionCfg := auth.DefaultSessionConfig([]byte(cfg.SessionSecret), cfg.SecureCookies)
	sessionCfg.MaxAge = cfg.SessionMaxAge
	sessions, err := auth.NewSessionStore(sessionCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize session store")
		return 1
	}
	if cfg.OperatorPasswordHash == "" {
		logger.Warn().Msg("OPERATOR_PASSWORD_HASH not set, operator login disabled")
	}
	operators := auth.NewAuthenticator(auth.Operator{
		Username:     cfg.OperatorUsername,
		PasswordHash: cfg.OperatorPasswordHash,
		Role:         auth.RoleAdmin,
	})

	routerCfg := api.DefaultConfig()
	routerCfg.DashboardURL = cfg.AppURL
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.TrustedProxies = cfg.TrustedProxies

	deps := api.Dependencies{
		Store:     database,
		Mailbox:   mailbox,
		Keys:      keyManager,
		Events:    notifier,
		Hub:       hub,
		Operators: operators,
		Sessions:  sessions,
		Metrics:   promMetrics,
		Gatherer:  registry,
		Queue:     queueHealth,
	}
	if redisMB != nil {
		deps.Redis = redisMB.Client()
	}

	router, err := api.NewRouter(routerCfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	monitor := monitoring.NewMonitor(database, promMetrics, cfg.StaleAgentSchedule, logger)
	if err := monitor.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start agent monitor")
	}
	defer monitor.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down collector")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		exitCode = 1
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		exitCode = 1
	}

	notifier.Wait()
	hub.Close()

	logger.Info().Msg("Collector stopped")
	return exitCode
}
