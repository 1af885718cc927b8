package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// JWTSecret signs and verifies HS256 bearer tokens.
	JWTSecret string

	// JWTIssuer is enforced on tokens when set.
	JWTIssuer string

	// AMQPURL is the RabbitMQ broker for notifications. Empty means
	// notifications are only logged.
	AMQPURL string

	// NotifyExchange is the topic exchange notifications are published to.
	NotifyExchange string

	// AdminEmail receives admin alert notifications.
	AdminEmail string

	// AccrualSchedule is the cron expression (UTC) for enqueueing credit accrual.
	AccrualSchedule string

	// CleanupSchedule prunes finished jobs. Empty disables cleanup.
	CleanupSchedule string

	// CreditRate is the platform credit rate for new subscriptions.
	CreditRate float64

	// CatalogCacheSize bounds the bundle and perk LRU caches.
	CatalogCacheSize int

	// CatalogCacheTTL is how long catalog lookups are served from cache.
	CatalogCacheTTL time.Duration

	// CatalogSeedFile is an optional YAML catalog upserted at startup.
	CatalogSeedFile string

	// CORSAllowedOrigins lists origins allowed by the CORS middleware.
	CORSAllowedOrigins []string

	// WorkerConcurrency is the number of job processors.
	WorkerConcurrency int
}

const (
	defaultServerAddress   = ":18111"
	defaultNotifyExchange  = "onesub.notifications"
	defaultAccrualSchedule = "0 3 1 * *"
	defaultCleanupSchedule = "30 4 * * *"
	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envJWTSecret           = "JWT_SECRET"
	envJWTIssuer           = "JWT_ISSUER"
	envAMQPURL             = "AMQP_URL"
	envNotifyExchange      = "NOTIFY_EXCHANGE"
	envAdminEmail          = "ADMIN_EMAIL"
	envAccrualSchedule     = "ACCRUAL_SCHEDULE"
	envCleanupSchedule     = "JOB_CLEANUP_SCHEDULE"
	envCreditRate          = "CREDIT_RATE"
	envCatalogCacheSize    = "CATALOG_CACHE_SIZE"
	envCatalogCacheTTL     = "CATALOG_CACHE_TTL"
	envCatalogSeedFile     = "CATALOG_SEED_FILE"
	envCORSAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	envWorkerConcurrency   = "WORKER_CONCURRENCY"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault(envServerAddress, defaultServerAddress)
	v.SetDefault(envNotifyExchange, defaultNotifyExchange)
	v.SetDefault(envAdminEmail, "platform.admin@onesub.com")
	v.SetDefault(envAccrualSchedule, defaultAccrualSchedule)
	v.SetDefault(envCleanupSchedule, defaultCleanupSchedule)
	v.SetDefault(envCreditRate, 0.01)
	v.SetDefault(envCatalogCacheSize, 256)
	v.SetDefault(envCatalogCacheTTL, "5m")
	v.SetDefault(envCORSAllowedOrigins, "*")
	v.SetDefault(envWorkerConcurrency, 2)
	v.AutomaticEnv()

	for _, key := range []string{envDatabaseURL, envJWTSecret, envJWTIssuer, envAMQPURL, envCatalogSeedFile} {
		_ = v.BindEnv(key)
	}

	cfg := Config{
		ServerAddress:      v.GetString(envServerAddress),
		DatabaseURL:        v.GetString(envDatabaseURL),
		JWTSecret:          v.GetString(envJWTSecret),
		JWTIssuer:          v.GetString(envJWTIssuer),
		AMQPURL:            v.GetString(envAMQPURL),
		NotifyExchange:     v.GetString(envNotifyExchange),
		AdminEmail:         v.GetString(envAdminEmail),
		AccrualSchedule:    v.GetString(envAccrualSchedule),
		CleanupSchedule:    v.GetString(envCleanupSchedule),
		CreditRate:         v.GetFloat64(envCreditRate),
		CatalogCacheSize:   v.GetInt(envCatalogCacheSize),
		CatalogCacheTTL:    v.GetDuration(envCatalogCacheTTL),
		CatalogSeedFile:    v.GetString(envCatalogSeedFile),
		CORSAllowedOrigins: splitList(v.GetString(envCORSAllowedOrigins)),
		WorkerConcurrency:  v.GetInt(envWorkerConcurrency),
	}
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = defaultServerAddress
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envJWTSecret)
	}
	if cfg.CreditRate < 0 || cfg.CreditRate > 1 {
		return Config{}, fmt.Errorf("%s must be between 0 and 1, got %v", envCreditRate, cfg.CreditRate)
	}
	if cfg.CatalogCacheSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envCatalogCacheSize, cfg.CatalogCacheSize)
	}
	if cfg.WorkerConcurrency <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envWorkerConcurrency, cfg.WorkerConcurrency)
	}

	return cfg, nil
}

// DatabaseTarget returns host and database name of the DSN for logging,
// without credentials.
func (c Config) DatabaseTarget() string {
	parsed, err := url.Parse(c.DatabaseURL)
	if err != nil || parsed.Host == "" {
		return "(unparsed dsn)"
	}
	return parsed.Host + parsed.Path
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
