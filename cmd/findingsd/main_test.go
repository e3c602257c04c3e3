package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/findingsd/internal/config"
	"github.com/djlord-it/findingsd/internal/cron"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range append(config.Keys, "PORT") {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "findingsd version dev (commit: unknown)\n", out)
}

func TestValidateCommand(t *testing.T) {
	clearEnv(t)

	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
}

func TestValidateCommand_Warnings(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROUTER_WORKERS", "lots")

	_, stderr, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning:")
	assert.Contains(t, stderr, "ROUTER_WORKERS")
}

func TestValidateCommand_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "loud")

	_, _, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("JOB_QUEUE", "webhook")
	t.Setenv("JOB_WEBHOOK_URL", "https://jobs.example.com/hook")
	t.Setenv("JOB_WEBHOOK_SECRET", "topsecretvalue")

	out, _, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "https://jobs.example.com/hook")
	assert.NotContains(t, out, "topsecretvalue")
}

func TestMigrateCommand_RequiresDatabase(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
}

const validSubscription = `
name: Resolve hostnames
finding: HostnameFinding
job:
  name: DomainNameResolvingJob
  parameters:
    - name: domainName
      value: "${domainName}"
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestSubscriptionsCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "resolve.yml", validSubscription)

	out, _, err := execute(t, "subscriptions", "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ok    event  Resolve hostnames (DomainNameResolvingJob)")
	assert.Contains(t, out, "1 subscriptions valid")
}

func TestSubscriptionsCheck_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-resolve.yml", validSubscription)
	writeFile(t, dir, "b-broken.yml", "name: broken\nfinding: IpFinding\n")

	out, _, err := execute(t, "subscriptions", "check", dir)
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, out, "error b-broken.yml")
	assert.Contains(t, err.Error(), "1 of 2 subscription files are invalid")
}

func TestSubscriptionsCheck_MissingDir(t *testing.T) {
	_, _, err := execute(t, "subscriptions", "check", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.Config{LogLevel: "debug", LogFormat: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger(config.Config{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = newLogger(config.Config{LogLevel: "loud", LogFormat: "json"})
	assert.Error(t, err)
}

func TestCronParserAdapter(t *testing.T) {
	adapter := &cronParserAdapter{parser: cron.NewParser()}

	sched, err := adapter.Parse("0 * * * *", "UTC")
	require.NoError(t, err)
	after := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), sched.Next(after))

	_, err = adapter.Parse("not cron", "UTC")
	assert.Error(t, err)
}
