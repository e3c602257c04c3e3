package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.TriggerStore {
	case TriggerStoreMemory:
	case TriggerStorePostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when TRIGGER_STORE=postgres")
		}
	case TriggerStoreSQLite:
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when TRIGGER_STORE=sqlite")
		}
	default:
		add("TRIGGER_STORE", "must be 'memory', 'postgres' or 'sqlite', got %q", cfg.TriggerStore)
	}

	switch cfg.JobQueue {
	case JobQueueLog:
	case JobQueueRedis:
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when JOB_QUEUE=redis")
		}
		if cfg.JobQueueKey == "" {
			add("JOB_QUEUE_KEY", "required when JOB_QUEUE=redis")
		}
	case JobQueueWebhook:
		if cfg.JobWebhookURL == "" {
			add("JOB_WEBHOOK_URL", "required when JOB_QUEUE=webhook")
		} else if u, err := url.Parse(cfg.JobWebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("JOB_WEBHOOK_URL", "must be an absolute http(s) URL, got %q", cfg.JobWebhookURL)
		}
		if cfg.JobWebhookSecret == "" {
			add("JOB_WEBHOOK_SECRET", "required when JOB_QUEUE=webhook")
		}
	default:
		add("JOB_QUEUE", "must be 'redis', 'webhook' or 'log', got %q", cfg.JobQueue)
	}

	checkDuration := func(field, value string) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, "invalid duration: %v", err)
		} else if d <= 0 {
			add(field, "must be positive")
		}
	}
	checkDuration("TICK_INTERVAL", cfg.TickIntervalStr)
	checkDuration("JOB_CACHE_TTL", cfg.JobCacheTTLStr)
	checkDuration("JOB_QUEUE_RETENTION", cfg.JobQueueRetentionStr)
	checkDuration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr)
	checkDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)
	checkDuration("LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr)
	checkDuration("LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr)
	checkDuration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr)

	if cfg.CronTimezone != "" {
		if _, err := time.LoadLocation(cfg.CronTimezone); err != nil {
			add("CRON_TIMEZONE", "unknown timezone %q", cfg.CronTimezone)
		}
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.MetricsPath != "" && cfg.MetricsPath[0] != '/' {
		add("METRICS_PATH", "must start with '/', got %q", cfg.MetricsPath)
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		add("LOG_LEVEL", "must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "", "json", "console":
	default:
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
