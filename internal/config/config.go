// Package config loads the findingsd configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Trigger store backends.
const (
	TriggerStoreMemory   = "memory"
	TriggerStorePostgres = "postgres"
	TriggerStoreSQLite   = "sqlite"
)

// Job queue backends.
const (
	JobQueueRedis   = "redis"
	JobQueueWebhook = "webhook"
	JobQueueLog     = "log"
)

// Config holds all configuration for findingsd.
// Values are loaded from environment variables; see Keys for the full list.
type Config struct {
	DatabaseURL  string
	TriggerStore string
	SQLitePath   string
	RedisAddr    string
	HTTPAddr     string

	JobQueue         string
	JobQueueKey      string
	JobWebhookURL    string
	JobWebhookSecret string

	TickInterval    time.Duration
	TickIntervalStr string
	// CronTimezone is the zone cron expressions are evaluated in.
	CronTimezone string

	SubscriptionsDir string
	CronPageSize     int
	RouterWorkers    int
	// CustomJobsDir holds custom job and pod config catalogs. Empty
	// disables custom jobs.
	CustomJobsDir string

	EventBusBufferSize int
	JobCacheSize       int
	JobCacheTTL        time.Duration
	JobCacheTTLStr     string

	JobQueueRetention    time.Duration
	JobQueueRetentionStr string

	DBOpTimeout    time.Duration
	DBOpTimeoutStr string

	HTTPShutdownTimeout    time.Duration
	HTTPShutdownTimeoutStr string

	MetricsEnabled bool
	MetricsPath    string
	// MetricsPort serves /metrics on a dedicated listener when set.
	MetricsPort string

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration
	LeaderRetryIntervalStr string

	// LeaderHeartbeatInterval pings the dedicated connection to detect local
	// connection death. It does not renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration
	LeaderHeartbeatIntervalStr string

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int
	CircuitBreakerCooldown    time.Duration
	CircuitBreakerCooldownStr string

	LogLevel  string
	LogFormat string

	// Warnings lists values that were ignored in favor of a default.
	// Load runs before the logger exists, so callers log them.
	Warnings []string
}

// Keys lists every environment variable read by Load.
var Keys = []string{
	"DATABASE_URL", "TRIGGER_STORE", "SQLITE_PATH", "REDIS_ADDR", "HTTP_ADDR",
	"JOB_QUEUE", "JOB_QUEUE_KEY", "JOB_WEBHOOK_URL", "JOB_WEBHOOK_SECRET",
	"TICK_INTERVAL", "CRON_TIMEZONE", "SUBSCRIPTIONS_DIR", "CUSTOM_JOBS_DIR", "CRON_PAGE_SIZE",
	"ROUTER_WORKERS",
	"EVENTBUS_BUFFER_SIZE", "JOB_CACHE_SIZE", "JOB_CACHE_TTL", "JOB_QUEUE_RETENTION",
	"DB_OP_TIMEOUT", "HTTP_SHUTDOWN_TIMEOUT", "METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT",
	"LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
	"CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN", "LOG_LEVEL", "LOG_FORMAT",
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		TriggerStore:               os.Getenv("TRIGGER_STORE"),
		SQLitePath:                 os.Getenv("SQLITE_PATH"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		JobQueue:                   os.Getenv("JOB_QUEUE"),
		JobQueueKey:                os.Getenv("JOB_QUEUE_KEY"),
		JobWebhookURL:              os.Getenv("JOB_WEBHOOK_URL"),
		JobWebhookSecret:           os.Getenv("JOB_WEBHOOK_SECRET"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		CronTimezone:               os.Getenv("CRON_TIMEZONE"),
		SubscriptionsDir:           os.Getenv("SUBSCRIPTIONS_DIR"),
		CustomJobsDir:              os.Getenv("CUSTOM_JOBS_DIR"),
		JobCacheTTLStr:             os.Getenv("JOB_CACHE_TTL"),
		JobQueueRetentionStr:       os.Getenv("JOB_QUEUE_RETENTION"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LogLevel:                   strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:                  strings.ToLower(os.Getenv("LOG_FORMAT")),
	}

	cfg.CronPageSize = cfg.positiveInt("CRON_PAGE_SIZE", 30)
	cfg.RouterWorkers = cfg.positiveInt("ROUTER_WORKERS", 4)
	cfg.EventBusBufferSize = cfg.positiveInt("EVENTBUS_BUFFER_SIZE", 1000)
	cfg.JobCacheSize = cfg.positiveInt("JOB_CACHE_SIZE", 1024)
	cfg.LeaderLockKey = int64(cfg.positiveInt("LEADER_LOCK_KEY", 4617247))

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			cfg.warnf("invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.TriggerStore == "" {
		if cfg.DatabaseURL != "" {
			cfg.TriggerStore = TriggerStorePostgres
		} else {
			cfg.TriggerStore = TriggerStoreMemory
		}
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "findingsd.db"
	}
	if cfg.JobQueue == "" {
		if cfg.RedisAddr != "" {
			cfg.JobQueue = JobQueueRedis
		} else {
			cfg.JobQueue = JobQueueLog
		}
	}
	if cfg.JobQueueKey == "" {
		cfg.JobQueueKey = "findingsd:jobs"
	}

	// Support the PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SubscriptionsDir == "" {
		cfg.SubscriptionsDir = "subscriptions"
	}
	if cfg.CronTimezone == "" {
		cfg.CronTimezone = "UTC"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.JobCacheTTLStr == "" {
		cfg.JobCacheTTLStr = "5m"
	}
	if cfg.JobQueueRetentionStr == "" {
		cfg.JobQueueRetentionStr = "168h"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.JobCacheTTLStr); err == nil {
		cfg.JobCacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.JobQueueRetentionStr); err == nil {
		cfg.JobQueueRetention = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}

	return cfg
}

// positiveInt reads a positive integer, falling back to def when unset or
// invalid.
func (c *Config) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		c.warnf("invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// UsesPostgres reports whether a Postgres connection is needed.
func (c Config) UsesPostgres() bool {
	return c.TriggerStore == TriggerStorePostgres
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url,omitempty"`
		TriggerStore            string `json:"trigger_store"`
		SQLitePath              string `json:"sqlite_path,omitempty"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		JobQueue                string `json:"job_queue"`
		JobQueueKey             string `json:"job_queue_key"`
		JobWebhookURL           string `json:"job_webhook_url,omitempty"`
		JobWebhookSecret        string `json:"job_webhook_secret,omitempty"`
		TickInterval            string `json:"tick_interval"`
		CronTimezone            string `json:"cron_timezone"`
		SubscriptionsDir        string `json:"subscriptions_dir"`
		CustomJobsDir           string `json:"custom_jobs_dir,omitempty"`
		CronPageSize            int    `json:"cron_page_size"`
		RouterWorkers           int    `json:"router_workers"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		JobCacheSize            int    `json:"job_cache_size"`
		JobCacheTTL             string `json:"job_cache_ttl"`
		JobQueueRetention       string `json:"job_queue_retention"`
		DBOpTimeout             string `json:"db_op_timeout"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port,omitempty"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LogLevel                string `json:"log_level"`
		LogFormat               string `json:"log_format"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		TriggerStore:            c.TriggerStore,
		SQLitePath:              c.SQLitePath,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		JobQueue:                c.JobQueue,
		JobQueueKey:             c.JobQueueKey,
		JobWebhookURL:           c.JobWebhookURL,
		JobWebhookSecret:        maskSecret(c.JobWebhookSecret),
		TickInterval:            c.TickIntervalStr,
		CronTimezone:            c.CronTimezone,
		SubscriptionsDir:        c.SubscriptionsDir,
		CustomJobsDir:           c.CustomJobsDir,
		CronPageSize:            c.CronPageSize,
		RouterWorkers:           c.RouterWorkers,
		EventBusBufferSize:      c.EventBusBufferSize,
		JobCacheSize:            c.JobCacheSize,
		JobCacheTTL:             c.JobCacheTTLStr,
		JobQueueRetention:       c.JobQueueRetentionStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LogLevel:                c.LogLevel,
		LogFormat:               c.LogFormat,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
