package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds collector configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	AppURL      string

	DatabaseURL   string
	RedisURL      string
	EncryptionKey string // hex, 32 bytes
	SessionSecret string

	OperatorUsername     string
	OperatorPasswordHash string // bcrypt
	SessionMaxAge        int    // seconds
	SecureCookies        bool

	NotifyWebhookURL    string
	NotifyWebhookSecret string

	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	TrustedProxies    []string

	// StaleAgentSchedule is the cron spec of the stale agent check.
	StaleAgentSchedule string
}

// LoadServerConfig reads collector configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":" + getEnv("PORT", "8080")
	}

	sessionMaxAge := getEnvInt("SESSION_MAX_AGE", 86400)
	if sessionMaxAge < 0 {
		sessionMaxAge = 86400
	}

	rateLimit := int64(getEnvInt("RATE_LIMIT_REQUESTS", 600))
	if rateLimit <= 0 {
		rateLimit = 600
	}

	return ServerConfig{
		Environment:          env,
		ListenAddr:           listen,
		AppURL:               strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		EncryptionKey:        os.Getenv("ENCRYPTION_KEY"),
		SessionSecret:        os.Getenv("SESSION_SECRET"),
		OperatorUsername:     getEnv("OPERATOR_USERNAME", "admin"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		SessionMaxAge:        sessionMaxAge,
		SecureCookies:        getEnvBool("SECURE_COOKIES", env == EnvProduction),
		NotifyWebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:  os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		RateLimitRequests:    rateLimit,
		RateLimitPeriod:      getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),
		TrustedProxies:       getEnvList("TRUSTED_PROXIES"),
		StaleAgentSchedule:   getEnv("STALE_AGENT_SCHEDULE", "@every 1m"),
	}
}

// Validate checks that the settings the collector cannot start without are present.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least 32 bytes, got %d", len(c.SessionSecret)))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the collector runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

// getEnvList splits a comma separated environment variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
