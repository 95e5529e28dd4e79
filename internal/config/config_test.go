package config

import (
	"errors"
	"strings"
	"testing"

	"prediction-pulse/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "DATABASE_URL", "REDIS_URL", "PORT",
		"SIGNAL_ALERT_THRESHOLD", "SIGNAL_TREND_THRESHOLD", "SIGNAL_TREND_WINDOW",
		"SIGNAL_TREND_STABILITY", "SIGNAL_TREND_ENABLED", "SIGNAL_RETRACEMENT",
		"SIGNAL_DEDUP_MARGIN", "SIGNAL_DEDUP_WINDOW_MINUTES",
		"POLYMARKET_STREAM_ENABLED", "COLLECT_CRON", "SWEEP_CRON",
		"SWEEP_LOOKBACK_HOURS", "SWEEP_USE_ALL_AVAILABLE", "SWEEP_CONCURRENCY",
		"COLLECT_LOOKBACK_HOURS", "RUN_ON_START",
		"MCP_TRANSPORT", "MCP_HTTP_ENABLED", "MCP_HTTP_BIND", "MCP_HTTP_PORT",
		"MCP_AUTH_TOKEN", "MCP_REQUEST_TIMEOUT_SECS", "MCP_RATE_LIMIT_PER_MIN",
		"SSH_BIND", "SSH_PORT", "SSH_HOST_KEY_PATH", "SSH_AUTHORIZED_KEYS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Signal != domain.DefaultSignalConfig() {
		t.Fatalf("expected default signal config, got %+v", cfg.Signal)
	}
	if cfg.CollectCron != "*/5 * * * *" || cfg.SweepCron != "*/15 * * * *" {
		t.Fatalf("unexpected cron defaults: %q %q", cfg.CollectCron, cfg.SweepCron)
	}
	if cfg.SweepLookbackHours != 24 || cfg.CollectLookbackHours != 12 || cfg.SweepConcurrency != 1 {
		t.Fatalf("unexpected sweep defaults: %+v", cfg)
	}
	if cfg.SweepUseAllAvailable || cfg.PolymarketStreamEnabled || !cfg.RunOnStart {
		t.Fatalf("unexpected flag defaults: %+v", cfg)
	}
	if cfg.MCPTransport != "stdio" || cfg.MCPHTTPBind != "127.0.0.1" || cfg.MCPHTTPPort != 8090 {
		t.Fatalf("unexpected MCP defaults: %+v", cfg)
	}
	if cfg.MCPRequestTimeoutSecs != 30 || cfg.MCPRateLimitPerMin != 60 {
		t.Fatalf("unexpected MCP limits: timeout=%d rate=%d", cfg.MCPRequestTimeoutSecs, cfg.MCPRateLimitPerMin)
	}
	if cfg.SSHBind != "0.0.0.0" || cfg.SSHPort != 2222 || cfg.SSHHostKeyPath == "" {
		t.Fatalf("unexpected SSH defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SIGNAL_ALERT_THRESHOLD", "0.1")
	t.Setenv("SIGNAL_TREND_WINDOW", "20")
	t.Setenv("SIGNAL_TREND_STABILITY", "0")
	t.Setenv("SIGNAL_TREND_ENABLED", "false")
	t.Setenv("SWEEP_USE_ALL_AVAILABLE", "true")
	t.Setenv("SWEEP_CONCURRENCY", "4")
	t.Setenv("POLYMARKET_STREAM_ENABLED", "1")
	t.Setenv("MCP_TRANSPORT", "HTTP")

	cfg := Load()
	if cfg.Port != 9000 || cfg.SweepConcurrency != 4 || !cfg.SweepUseAllAvailable || !cfg.PolymarketStreamEnabled {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Signal.AlertThreshold != 0.1 || cfg.Signal.TrendWindowSize != 20 || cfg.Signal.TrendStabilityPoints != 0 || cfg.Signal.TrendEnabled {
		t.Fatalf("unexpected signal overrides: %+v", cfg.Signal)
	}
	if cfg.MCPTransport != "http" {
		t.Fatalf("expected lowercase transport, got %s", cfg.MCPTransport)
	}
}

func TestLoadIgnoresGarbageNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "-1")
	t.Setenv("SWEEP_LOOKBACK_HOURS", "soon")
	t.Setenv("MCP_TRANSPORT", "carrier-pigeon")

	cfg := Load()
	if cfg.Port != 8080 || cfg.SweepLookbackHours != 24 || cfg.MCPTransport != "stdio" {
		t.Fatalf("expected fallbacks, got %+v", cfg)
	}
}

func TestValidateRejectsBadSignalSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNAL_TREND_WINDOW", "0")

	cfg := Load()
	if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	clearEnv(t)
	t.Setenv("SIGNAL_ALERT_THRESHOLD", "-0.05")
	if err := Load().Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for negative threshold, got %v", err)
	}
}

func TestValidateRejectsUnparseableSignalSettings(t *testing.T) {
	for key, value := range map[string]string{
		"SIGNAL_ALERT_THRESHOLD": "five-percent",
		"SIGNAL_TREND_WINDOW":    "ten",
		"SIGNAL_TREND_ENABLED":   "sometimes",
	} {
		clearEnv(t)
		t.Setenv(key, value)

		err := Load().Validate()
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Fatalf("%s=%q: expected ErrInvalidConfig, got %v", key, value, err)
		}
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("%s=%q: expected the key in the error, got %v", key, value, err)
		}
	}
}
