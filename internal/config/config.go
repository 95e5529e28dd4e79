package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"prediction-pulse/internal/domain"
)

type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string
	Port             int

	Signal domain.SignalConfig

	PolymarketGammaURL      string
	PolymarketClobURL       string
	PolymarketWSURL         string
	PolymarketStreamEnabled bool
	KalshiAPIURL            string

	CollectCron          string
	SweepCron            string
	SweepLookbackHours   int
	SweepUseAllAvailable bool
	SweepConcurrency     int
	CollectLookbackHours int
	RunOnStart           bool

	MCPTransport          string
	MCPHTTPEnabled        bool
	MCPHTTPBind           string
	MCPHTTPPort           int
	MCPAuthToken          string
	MCPRequestTimeoutSecs int
	MCPRateLimitPerMin    int

	SSHBind           string
	SSHPort           int
	SSHHostKeyPath    string
	SSHAuthorizedKeys string

	// signalErrs holds SIGNAL_* values that could not be parsed.
	signalErrs []error
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		MCPAuthToken:       os.Getenv("MCP_AUTH_TOKEN"),
		PolymarketGammaURL: strings.TrimSpace(os.Getenv("POLYMARKET_GAMMA_URL")),
		PolymarketClobURL:  strings.TrimSpace(os.Getenv("POLYMARKET_CLOB_URL")),
		PolymarketWSURL:    strings.TrimSpace(os.Getenv("POLYMARKET_WS_URL")),
		KalshiAPIURL:       strings.TrimSpace(os.Getenv("KALSHI_API_URL")),
		SSHHostKeyPath:     strings.TrimSpace(os.Getenv("SSH_HOST_KEY_PATH")),
		SSHAuthorizedKeys:  strings.TrimSpace(os.Getenv("SSH_AUTHORIZED_KEYS")),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, collection cursors will not be cached")
	}

	cfg.Port = positiveInt("PORT", 8080)

	defaults := domain.DefaultSignalConfig()
	cfg.Signal = domain.SignalConfig{
		AlertThreshold:       cfg.rawFloat("SIGNAL_ALERT_THRESHOLD", defaults.AlertThreshold),
		TrendThreshold:       cfg.rawFloat("SIGNAL_TREND_THRESHOLD", defaults.TrendThreshold),
		TrendWindowSize:      cfg.rawInt("SIGNAL_TREND_WINDOW", defaults.TrendWindowSize),
		TrendStabilityPoints: cfg.rawInt("SIGNAL_TREND_STABILITY", defaults.TrendStabilityPoints),
		TrendEnabled:         cfg.rawBool("SIGNAL_TREND_ENABLED", defaults.TrendEnabled),
		Retracement:          cfg.rawFloat("SIGNAL_RETRACEMENT", defaults.Retracement),
		DedupMargin:          cfg.rawFloat("SIGNAL_DEDUP_MARGIN", defaults.DedupMargin),
		DedupWindowMinutes:   cfg.rawInt("SIGNAL_DEDUP_WINDOW_MINUTES", defaults.DedupWindowMinutes),
	}

	cfg.PolymarketStreamEnabled = boolEnv("POLYMARKET_STREAM_ENABLED", false)

	cfg.CollectCron = strings.TrimSpace(os.Getenv("COLLECT_CRON"))
	if cfg.CollectCron == "" {
		cfg.CollectCron = "*/5 * * * *"
	}
	cfg.SweepCron = strings.TrimSpace(os.Getenv("SWEEP_CRON"))
	if cfg.SweepCron == "" {
		cfg.SweepCron = "*/15 * * * *"
	}
	cfg.SweepLookbackHours = positiveInt("SWEEP_LOOKBACK_HOURS", 24)
	cfg.SweepUseAllAvailable = boolEnv("SWEEP_USE_ALL_AVAILABLE", false)
	cfg.SweepConcurrency = positiveInt("SWEEP_CONCURRENCY", 1)
	cfg.CollectLookbackHours = positiveInt("COLLECT_LOOKBACK_HOURS", 12)
	cfg.RunOnStart = boolEnv("RUN_ON_START", true)

	cfg.MCPTransport = strings.ToLower(strings.TrimSpace(os.Getenv("MCP_TRANSPORT")))
	if cfg.MCPTransport == "" {
		cfg.MCPTransport = "stdio"
	}
	if cfg.MCPTransport != "stdio" && cfg.MCPTransport != "http" {
		log.Printf("Warning: unsupported MCP_TRANSPORT=%q, defaulting to stdio", cfg.MCPTransport)
		cfg.MCPTransport = "stdio"
	}

	cfg.MCPHTTPEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("MCP_HTTP_ENABLED")), "true")

	cfg.MCPHTTPBind = strings.TrimSpace(os.Getenv("MCP_HTTP_BIND"))
	if cfg.MCPHTTPBind == "" {
		cfg.MCPHTTPBind = "127.0.0.1"
	}
	cfg.MCPHTTPPort = positiveInt("MCP_HTTP_PORT", 8090)
	cfg.MCPRequestTimeoutSecs = positiveInt("MCP_REQUEST_TIMEOUT_SECS", 30)
	cfg.MCPRateLimitPerMin = positiveInt("MCP_RATE_LIMIT_PER_MIN", 60)

	cfg.SSHBind = strings.TrimSpace(os.Getenv("SSH_BIND"))
	if cfg.SSHBind == "" {
		cfg.SSHBind = "0.0.0.0"
	}
	cfg.SSHPort = positiveInt("SSH_PORT", 2222)
	if cfg.SSHHostKeyPath == "" {
		cfg.SSHHostKeyPath = ".ssh/pulse_host_ed25519"
	}

	return cfg
}

// Validate fails on settings that would make detection meaningless.
func (c *Config) Validate() error {
	if len(c.signalErrs) > 0 {
		return fmt.Errorf("signal settings: %w", errors.Join(c.signalErrs...))
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal settings: %w", err)
	}
	return nil
}

func positiveInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

// rawInt, rawFloat and rawBool keep any parseable value so Validate can range-check it,
// and record unparseable ones so Validate rejects them at startup.
func (c *Config) rawInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.badSignalValue(key, v)
			return fallback
		}
		return n
	}
	return fallback
}

func (c *Config) rawFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.badSignalValue(key, v)
			return fallback
		}
		return n
	}
	return fallback
}

func (c *Config) rawBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.badSignalValue(key, v)
		return fallback
	}
	return b
}

func (c *Config) badSignalValue(key, value string) {
	c.signalErrs = append(c.signalErrs, fmt.Errorf("%w: cannot parse %s=%q", domain.ErrInvalidConfig, key, value))
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	switch {
	case strings.EqualFold(v, "true"), v == "1":
		return true
	case strings.EqualFold(v, "false"), v == "0":
		return false
	}
	return fallback
}
