package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range Keys {
		t.Setenv(k, "")
	}
	t.Setenv("PORT", "")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, TriggerStoreMemory, cfg.TriggerStore)
	assert.Equal(t, JobQueueLog, cfg.JobQueue)
	assert.Equal(t, "findingsd:jobs", cfg.JobQueueKey)
	assert.Equal(t, "findingsd.db", cfg.SQLitePath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, "UTC", cfg.CronTimezone)
	assert.Equal(t, "subscriptions", cfg.SubscriptionsDir)
	assert.Empty(t, cfg.CustomJobsDir)
	assert.Equal(t, 30, cfg.CronPageSize)
	assert.Equal(t, 4, cfg.RouterWorkers)
	assert.Equal(t, 1000, cfg.EventBusBufferSize)
	assert.Equal(t, 1024, cfg.JobCacheSize)
	assert.Equal(t, 5*time.Minute, cfg.JobCacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JobQueueRetention)
	assert.Equal(t, 5*time.Second, cfg.DBOpTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPShutdownTimeout)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, int64(4617247), cfg.LeaderLockKey)
	assert.Equal(t, 5*time.Second, cfg.LeaderRetryInterval)
	assert.Equal(t, 2*time.Second, cfg.LeaderHeartbeatInterval)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 2*time.Minute, cfg.CircuitBreakerCooldown)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.Warnings)

	require.NoError(t, Validate(cfg))
}

func TestLoad_BackendsInferred(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/findingsd")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()

	assert.Equal(t, TriggerStorePostgres, cfg.TriggerStore)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, JobQueueRedis, cfg.JobQueue)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRIGGER_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", "/var/lib/findingsd/triggers.db")
	t.Setenv("JOB_QUEUE", "webhook")
	t.Setenv("JOB_WEBHOOK_URL", "https://jobs.example.com/hook")
	t.Setenv("JOB_WEBHOOK_SECRET", "s3cret")
	t.Setenv("TICK_INTERVAL", "15s")
	t.Setenv("CRON_TIMEZONE", "Europe/Paris")
	t.Setenv("CRON_PAGE_SIZE", "250")
	t.Setenv("ROUTER_WORKERS", "8")
	t.Setenv("JOB_CACHE_TTL", "1m")
	t.Setenv("JOB_QUEUE_RETENTION", "24h")
	t.Setenv("CUSTOM_JOBS_DIR", "/etc/findingsd/jobs")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("PORT", "9000")

	cfg := Load()

	assert.Equal(t, TriggerStoreSQLite, cfg.TriggerStore)
	assert.False(t, cfg.UsesPostgres())
	assert.Equal(t, "/var/lib/findingsd/triggers.db", cfg.SQLitePath)
	assert.Equal(t, JobQueueWebhook, cfg.JobQueue)
	assert.Equal(t, 15*time.Second, cfg.TickInterval)
	assert.Equal(t, "Europe/Paris", cfg.CronTimezone)
	assert.Equal(t, 250, cfg.CronPageSize)
	assert.Equal(t, 8, cfg.RouterWorkers)
	assert.Equal(t, time.Minute, cfg.JobCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.JobQueueRetention)
	assert.Equal(t, "/etc/findingsd/jobs", cfg.CustomJobsDir)
	assert.Equal(t, 0, cfg.CircuitBreakerThreshold, "explicit 0 disables the breaker")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, ":9000", cfg.HTTPAddr)

	require.NoError(t, Validate(cfg))
}

func TestLoad_InvalidIntegersFallBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"negative", "-1"},
		{"zero", "0"},
		{"non-numeric", "abc"},
		{"float", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("EVENTBUS_BUFFER_SIZE", tt.value)
			t.Setenv("ROUTER_WORKERS", tt.value)

			cfg := Load()

			assert.Equal(t, 1000, cfg.EventBusBufferSize)
			assert.Equal(t, 4, cfg.RouterWorkers)
			assert.Len(t, cfg.Warnings, 2)
		})
	}
}

func TestMaskedJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:pass@db/findingsd")
	t.Setenv("JOB_WEBHOOK_SECRET", "s3cret")

	data, err := Load().MaskedJSON()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "postgres://***", out["database_url"])
	assert.Equal(t, "***", out["job_webhook_secret"])
	assert.NotContains(t, string(data), "pass@db")
	assert.NotContains(t, string(data), "s3cret")
	for _, field := range []string{"trigger_store", "job_queue", "cron_page_size", "router_workers", "eventbus_buffer_size", "job_queue_retention", "leader_lock_key"} {
		assert.Contains(t, out, field)
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "postgresql://***", maskSecret("postgresql://u:p@h/db"))
	assert.Equal(t, "***", maskSecret("plain"))
}
