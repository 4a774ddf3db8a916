package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Upstream UpstreamConfig
	Catalog  CatalogConfig
	App      AppConfig
}

type ServerConfig struct {
	Port               string
	PublicBaseURL      string
	CORSAllowedOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type UpstreamConfig struct {
	Timeout   time.Duration
	RateLimit float64 // fetches per second, 0 disables limiting
	Burst     int
}

type CatalogConfig struct {
	CatalogTTL       time.Duration
	TileCacheTTL     time.Duration
	CapabilitiesMode string // "latest" or "all"
	ConvergeSchedule string // cron spec, empty disables the sweeper
}

type AppConfig struct {
	Environment string
	LogLevel    string
	LogFormat   string
	Version     string
}

const (
	CapabilitiesLatest = "latest"
	CapabilitiesAll    = "all"
)

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Upstream: UpstreamConfig{
			Timeout:   getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			RateLimit: getEnvAsFloat("UPSTREAM_RATE_LIMIT", 50),
			Burst:     getEnvAsInt("UPSTREAM_BURST", 100),
		},
		Catalog: CatalogConfig{
			CatalogTTL:       getEnvAsDuration("CATALOG_TTL", 7*24*time.Hour),
			TileCacheTTL:     getEnvAsDuration("TILE_CACHE_TTL", time.Hour),
			CapabilitiesMode: strings.ToLower(getEnv("CAPABILITIES_MODE", CapabilitiesLatest)),
			ConvergeSchedule: getEnv("CONVERGE_SCHEDULE", "@every 10m"),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "json"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}

	if c.Catalog.TileCacheTTL <= 0 || c.Catalog.CatalogTTL <= 0 {
		return fmt.Errorf("TILE_CACHE_TTL and CATALOG_TTL must be positive")
	}

	switch c.Catalog.CapabilitiesMode {
	case CapabilitiesLatest, CapabilitiesAll:
	default:
		return fmt.Errorf("CAPABILITIES_MODE must be %q or %q, got %q", CapabilitiesLatest, CapabilitiesAll, c.Catalog.CapabilitiesMode)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s, using default: %g", key, defaultValue)
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go durations ("30s", "1h") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
