package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	CartTTL       time.Duration
	CartKeyPrefix string
	CartLockTTL   time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int64
	MaxBodyBytes    int64

	// TaxProductPrices declares whether catalog prices arrive with tax
	// included (2) or excluded (1). TaxProductDisplayPrices controls how
	// unit prices are rendered to clients, independently of storage.
	TaxProductPrices        int
	TaxProductDisplayPrices int

	// Money display settings, number_format style.
	MoneyDecimals      int32
	MoneyDecimalPoint  string
	MoneyThousandsSep  string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                  valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                    valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:                k.String("REDIS_URL"),
		CORSAllowedOrigins:      splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CartTTL:                 parseDuration(k.String("CART_TTL"), "720h"),
		CartKeyPrefix:           valueOrDefault(k.String("CART_KEY_PREFIX"), "cart:"),
		CartLockTTL:             parseDuration(k.String("CART_LOCK_TTL"), "5s"),
		RateLimitWindow:         parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:            int64(parseInt(k.String("RATE_LIMIT_MAX"), 0)),
		MaxBodyBytes:            int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		TaxProductPrices:        parseInt(k.String("TAX_PRODUCT_PRICES"), 1),
		TaxProductDisplayPrices: parseInt(k.String("TAX_PRODUCT_DISPLAY_PRICES"), 1),
		MoneyDecimals:           int32(parseInt(k.String("MONEY_DECIMALS"), 2)),
		MoneyDecimalPoint:       valueOrDefault(k.String("MONEY_DECIMAL_POINT"), ","),
		MoneyThousandsSep:       valueOrDefault(k.String("MONEY_THOUSANDS_SEP"), "."),
		LogFormat:               valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:                valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:        valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "keranjang"),
		MetricsBuckets:          k.String("OBS_METRICS_BUCKETS_MS"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TaxProductPrices != 1 && cfg.TaxProductPrices != 2 {
		return nil, errors.New("TAX_PRODUCT_PRICES must be 1 or 2")
	}
	if cfg.TaxProductDisplayPrices != 1 && cfg.TaxProductDisplayPrices != 2 {
		return nil, errors.New("TAX_PRODUCT_DISPLAY_PRICES must be 1 or 2")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
