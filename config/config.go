package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed kinds.
const (
	FeedWebSocket = "ws"
	FeedRedis     = "redis"
)

// Seed kinds.
const (
	SeedHTTP   = "http"
	SeedRedis  = "redis"
	SeedSQLite = "sqlite"
	SeedNone   = "none"
)

// Config holds all application configuration loaded from environment
// variables, optionally overlaid by a YAML file.
type Config struct {
	// Instrument shown on the dashboard (one series per process)
	Symbol string `yaml:"symbol"`

	// Live feed
	FeedKind string `yaml:"feed_kind"` // ws | redis
	FeedURL  string `yaml:"feed_url"`  // ws://host:port/ws

	// Seed snapshot
	SeedKind  string `yaml:"seed_kind"`  // http | redis | sqlite | none
	SeedURL   string `yaml:"seed_url"`   // http://host:port (GET /api/seed)
	SeedLimit int    `yaml:"seed_limit"` // newest N candles for redis/sqlite seeds

	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	SQLitePath    string `yaml:"sqlite_path"`
	GatewayAddr   string `yaml:"gateway_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`

	// Engine behaviour
	SignalRetention       int           `yaml:"signal_retention"` // 0 = keep all
	StrictOrdering        bool          `yaml:"strict_ordering"`
	ResnapshotOnReconnect bool          `yaml:"resnapshot_on_reconnect"`
	SeedTimeout           time.Duration `yaml:"seed_timeout"`

	// Alerts: new signals and feed outages are logged, and POSTed here when set
	AlertWebhookURL string `yaml:"alert_webhook_url"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Symbol: getEnv("SYMBOL", "BTCUSDT"),

		FeedKind: getEnv("FEED_KIND", FeedWebSocket),
		FeedURL:  getEnv("FEED_URL", "ws://localhost:8080/ws"),

		SeedKind:  getEnv("SEED_KIND", SeedHTTP),
		SeedURL:   getEnv("SEED_URL", "http://localhost:8080"),
		SeedLimit: getEnvInt("SEED_LIMIT", 500),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":9001"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		SignalRetention:       getEnvInt("SIGNAL_RETENTION", 0),
		StrictOrdering:        getEnvBool("STRICT_ORDERING", false),
		ResnapshotOnReconnect: getEnvBool("RESNAPSHOT_ON_RECONNECT", true),
		SeedTimeout:           getEnvDuration("SEED_TIMEOUT", 10*time.Second),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// LoadFile loads the env configuration and overlays every key present in
// the YAML file at path. Keys absent from the file keep their env value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	switch c.FeedKind {
	case FeedWebSocket:
		if c.FeedURL == "" {
			return fmt.Errorf("feed_url required for ws feed")
		}
	case FeedRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr required for redis feed")
		}
	default:
		return fmt.Errorf("feed_kind must be %q or %q, got %q", FeedWebSocket, FeedRedis, c.FeedKind)
	}
	switch c.SeedKind {
	case SeedHTTP:
		if c.SeedURL == "" {
			return fmt.Errorf("seed_url required for http seed")
		}
	case SeedSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path required for sqlite seed")
		}
	case SeedRedis, SeedNone:
	default:
		return fmt.Errorf("unknown seed_kind %q", c.SeedKind)
	}
	if c.SignalRetention < 0 {
		return fmt.Errorf("signal_retention must be >= 0")
	}
	if c.SeedLimit <= 0 {
		return fmt.Errorf("seed_limit must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
