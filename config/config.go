package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	HTTPAddr    string
	MetricsAddr string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string

	// Engine
	CycleInterval time.Duration
	SlippageBps   float64

	// Risk
	MaxNotional     float64
	IngestRateLimit int           // requests per window per source
	OrderRateLimit  int           // validated orders per window per account
	RateWindow      time.Duration

	// Symbols
	DefaultExchange string
	DefaultSuffix   string

	// Accounts
	DefaultAccountName  string
	DefaultWebhookToken string
	StartingCash        float64

	// Notifications (optional)
	TelegramBotToken string
	TelegramChatID   string
	NotifyWebhookURL string

	// Angel One credentials (optional; empty disables live mode)
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/pipeline.db"),

		CycleInterval: getDuration("CYCLE_INTERVAL", 2*time.Second),
		SlippageBps:   getFloat("SLIPPAGE_BPS", 10),

		MaxNotional:     getFloat("MAX_ORDER_NOTIONAL", 1_000_000),
		IngestRateLimit: getInt("INGEST_RATE_LIMIT", 60),
		OrderRateLimit:  getInt("ORDER_RATE_LIMIT", 20),
		RateWindow:      getDuration("RATE_WINDOW", time.Minute),

		DefaultExchange: getEnv("DEFAULT_EXCHANGE", "NSE"),
		DefaultSuffix:   getEnv("DEFAULT_SEGMENT_SUFFIX", "-EQ"),

		DefaultAccountName:  getEnv("DEFAULT_ACCOUNT_NAME", "primary"),
		DefaultWebhookToken: getEnv("DEFAULT_WEBHOOK_TOKEN", ""),
		StartingCash:        getFloat("STARTING_CASH", 1_000_000),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),

		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),
	}
}

// LiveEnabled reports whether all broker credentials are present.
func (c *Config) LiveEnabled() bool {
	return c.AngelAPIKey != "" && c.AngelClientCode != "" &&
		c.AngelPassword != "" && c.AngelTOTPSecret != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
