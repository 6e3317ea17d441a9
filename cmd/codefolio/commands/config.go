package commands

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/orchestrator"
	"codefolio-backend/internal/verification"
	"codefolio-backend/lib/configutil"
	configlibsql "codefolio-backend/lib/configutil/libsql"
	"errors"
	"fmt"
	"os"
	"time"
)

type FetchConfig struct {
	TimeoutSeconds  int     `json:"timeout_seconds"`
	RatePerSecond   float64 `json:"rate_per_second"`
	Burst           int     `json:"burst"`
	CacheMB         int     `json:"cache_mb"`
	CacheTTLSeconds int     `json:"cache_ttl_seconds"`
}

type BrowserConfig struct {
	// Disabled skips the browser entirely, platforms that need one fail.
	Disabled bool `json:"disabled"`
	// Headful shows the browser window.
	Headful            bool   `json:"headful"`
	ExecPath           string `json:"exec_path"`
	PageTimeoutSeconds int    `json:"page_timeout_seconds"`
	PoolSize           int    `json:"pool_size"`
}

type RetryConfig struct {
	MaxAttempts     int     `json:"max_attempts"`
	InitialMs       int     `json:"initial_ms"`
	MaxMs           int     `json:"max_ms"`
	Multiplier      float64 `json:"multiplier"`
	CrashCooldownMs int     `json:"crash_cooldown_ms"`
}

type VerificationConfig struct {
	MaxAttempts int `json:"max_attempts"`
	CodeLength  int `json:"code_length"`
}

type RefreshConfig struct {
	Cron        string `json:"cron"`
	GapSeconds  int    `json:"gap_seconds"`
	Concurrency int    `json:"concurrency"`
}

type Config struct {
	Database     configlibsql.Struct `json:"database"`
	Fetch        FetchConfig         `json:"fetch"`
	Browser      BrowserConfig       `json:"browser"`
	Retry        RetryConfig         `json:"retry"`
	Verification VerificationConfig  `json:"verification"`
	Refresh      RefreshConfig       `json:"refresh"`
	// Timezone is the IANA zone calendar days are computed in.
	Timezone string `json:"timezone"`
}

func DefaultConfig() Config {
	return Config{
		Database: configlibsql.Struct{File: "<dev_state>/codefolio.db"},
		Fetch: FetchConfig{
			TimeoutSeconds:  15,
			RatePerSecond:   2,
			Burst:           2,
			CacheMB:         16,
			CacheTTLSeconds: 300,
		},
		Browser: BrowserConfig{
			PageTimeoutSeconds: 45,
			PoolSize:           2,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialMs:       1000,
			MaxMs:           8000,
			Multiplier:      1.5,
			CrashCooldownMs: 5000,
		},
		Verification: VerificationConfig{
			MaxAttempts: 5,
			CodeLength:  6,
		},
		Refresh: RefreshConfig{
			Cron:        "0 2 * * *",
			GapSeconds:  3,
			Concurrency: 2,
		},
		Timezone: "UTC",
	}
}

// ReadConfig reads the config file over the defaults, a missing file is not
// an error.
func ReadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfigWithDefaults(path, DefaultConfig())
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, err
	}
	err = chrono.ValidateCron(config.Refresh.Cron)
	if err != nil {
		return Config{}, fmt.Errorf("refresh: %w", err)
	}
	return config, nil
}

func (c Config) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = time.Duration(c.Fetch.TimeoutSeconds) * time.Second
	opts.RatePerSecond = c.Fetch.RatePerSecond
	opts.Burst = c.Fetch.Burst
	opts.CacheMB = c.Fetch.CacheMB
	opts.CacheTTL = time.Duration(c.Fetch.CacheTTLSeconds) * time.Second
	return opts
}

func (c Config) PoolOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.PageTimeout = time.Duration(c.Browser.PageTimeoutSeconds) * time.Second
	opts.MaxSessions = c.Browser.PoolSize
	return opts
}

func (c Config) ChromeOptions() browser.ChromeOptions {
	opts := browser.DefaultChromeOptions()
	opts.Headless = !c.Browser.Headful
	opts.ExecPath = c.Browser.ExecPath
	return opts
}

func (c Config) OrchestratorOptions() orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.Retry.MaxAttempts = c.Retry.MaxAttempts
	opts.Retry.InitialInterval = time.Duration(c.Retry.InitialMs) * time.Millisecond
	opts.Retry.MaxInterval = time.Duration(c.Retry.MaxMs) * time.Millisecond
	opts.Retry.Multiplier = c.Retry.Multiplier
	opts.Retry.CrashCooldown = time.Duration(c.Retry.CrashCooldownMs) * time.Millisecond
	// an attempt may need a full page load plus the api calls around it
	opts.Retry.AttemptTimeout = time.Duration(c.Browser.PageTimeoutSeconds+c.Fetch.TimeoutSeconds) * time.Second

	opts.Verification = verification.DefaultOptions()
	opts.Verification.MaxAttempts = c.Verification.MaxAttempts
	opts.Verification.CodeLength = c.Verification.CodeLength

	opts.Refresh.Cron = c.Refresh.Cron
	opts.Refresh.Gap = time.Duration(c.Refresh.GapSeconds) * time.Second
	opts.Refresh.Concurrency = c.Refresh.Concurrency
	return opts
}
