package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadConfigMissingUsesDefaults(t *testing.T) {
	config, err := ReadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
	// comments are allowed
	database: { file: "codefolio.db" },
	fetch: { rate_per_second: 5 },
	refresh: { cron: "30 3 * * *" },
	timezone: "Asia/Kolkata",
}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
	browser: { disabled: true },
	retry: { max_attempts: 4 },
}`), 0600))

	config, err := ReadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "codefolio.db", config.Database.File)
	require.Equal(t, 5.0, config.Fetch.RatePerSecond)
	require.Equal(t, 15, config.Fetch.TimeoutSeconds)
	require.Equal(t, "30 3 * * *", config.Refresh.Cron)
	require.Equal(t, "Asia/Kolkata", config.Timezone)
	require.True(t, config.Browser.Disabled)
	require.Equal(t, 4, config.Retry.MaxAttempts)
	require.Equal(t, 1000, config.Retry.InitialMs)
}

func TestConfigOptions(t *testing.T) {
	config := DefaultConfig()

	fetchOpts := config.FetchOptions()
	require.Equal(t, 15*time.Second, fetchOpts.Timeout)
	require.Equal(t, 5*time.Minute, fetchOpts.CacheTTL)

	opts := config.OrchestratorOptions()
	require.Equal(t, 3, opts.Retry.MaxAttempts)
	require.Equal(t, time.Second, opts.Retry.InitialInterval)
	require.Equal(t, 8*time.Second, opts.Retry.MaxInterval)
	require.Equal(t, 5*time.Second, opts.Retry.CrashCooldown)
	require.Equal(t, 60*time.Second, opts.Retry.AttemptTimeout)
	require.Equal(t, 5, opts.Verification.MaxAttempts)
	require.Equal(t, 3*time.Second, opts.Refresh.Gap)

	require.True(t, config.ChromeOptions().Headless)
	require.Equal(t, 2, config.PoolOptions().MaxSessions)
}

func TestReadConfigRejectsBadCron(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{ refresh: { cron: "every night" } }`), 0600))

	_, err := ReadConfig(path)
	require.ErrorContains(t, err, "refresh")
}
