package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	ListenAddr  string
	MetricsAddr string

	// Storage
	SQLitePath string

	// Cache: "memory" (default) or "redis"
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Providers, highest priority first (comma-separated)
	Providers string

	// Fetch tuning
	CandleTTL      time.Duration
	LookupTTL      time.Duration
	MinCallSpacing time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		SQLitePath: getEnv("SQLITE_PATH", "data/candles.db"),

		CacheBackend:  getEnv("CACHE_BACKEND", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Providers: getEnv("PROVIDERS", "binance,bybit,coinbase,yahoo"),

		CandleTTL:      getEnvDuration("CANDLE_TTL", 2*time.Minute),
		LookupTTL:      getEnvDuration("LOOKUP_TTL", 6*time.Hour),
		MinCallSpacing: getEnvDuration("MIN_CALL_SPACING", 250*time.Millisecond),
	}
}

// ParseProviders splits the Providers string into an ordered name list.
func (c *Config) ParseProviders() []string {
	parts := strings.Split(c.Providers, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			names = append(names, p)
		}
	}
	return names
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
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
