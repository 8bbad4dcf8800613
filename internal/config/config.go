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
	"github.com/shopspring/decimal"
)

// Ledger and sequence drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	TaxRatePercent   decimal.Decimal
	DiscountRate     decimal.Decimal
	ReceiptFields    []string
	SaleNumberPrefix string

	CartTTL         time.Duration
	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	CheckoutLockTTL time.Duration

	RateLimitWindow     time.Duration
	RateLimitPerCashier int

	LedgerDriver   string
	SequenceDriver string

	KafkaBrokers    []string
	KafkaSalesTopic string

	WebhookURLs    []string
	WebhookSecret  string
	WebhookTimeout time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	OTelExporter     string
	OTelEndpoint     string
	OTelSampling     float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:         k.String("DATABASE_URL"),
		RedisURL:            k.String("REDIS_URL"),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		ReceiptFields:       splitAndTrim(valueOrDefault(k.String("RECEIPT_FIELDS"), "amount")),
		SaleNumberPrefix:    valueOrDefault(k.String("SALE_NUMBER_PREFIX"), "TRX"),
		CartTTL:             parseDuration(k.String("CART_TTL"), "12h"),
		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CheckoutLockTTL:     parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),
		RateLimitWindow:     parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitPerCashier: parseInt(k.String("RATE_LIMIT_PER_CASHIER"), 120),
		LedgerDriver:        strings.ToLower(valueOrDefault(k.String("LEDGER_DRIVER"), DriverPostgres)),
		SequenceDriver:      strings.ToLower(valueOrDefault(k.String("SEQUENCE_DRIVER"), DriverRedis)),
		KafkaBrokers:        splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaSalesTopic:     valueOrDefault(k.String("KAFKA_SALES_TOPIC"), "pos.sales"),
		WebhookURLs:         splitAndTrim(k.String("WEBHOOK_URLS")),
		WebhookSecret:       k.String("WEBHOOK_SECRET"),
		WebhookTimeout:      parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		LogFormat:           valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "kasir"),
		MetricsBuckets:      k.String("OBS_METRICS_BUCKETS_MS"),
		OTelExporter:        valueOrDefault(k.String("OTEL_EXPORTER"), "none"),
		OTelEndpoint:        k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSampling:        parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),
	}

	var err error
	if cfg.TaxRatePercent, err = parseDecimal(k.String("TAX_RATE_PERCENT"), "11"); err != nil {
		return nil, fmt.Errorf("TAX_RATE_PERCENT: %w", err)
	}
	if cfg.DiscountRate, err = parseDecimal(k.String("DISCOUNT_RATE"), "0.08"); err != nil {
		return nil, fmt.Errorf("DISCOUNT_RATE: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TaxRatePercent.IsNegative() || c.TaxRatePercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("TAX_RATE_PERCENT must be between 0 and 100")
	}
	if c.DiscountRate.IsNegative() || c.DiscountRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("DISCOUNT_RATE must be between 0 and 1")
	}
	switch c.LedgerDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported LEDGER_DRIVER %q", c.LedgerDriver)
	}
	switch c.SequenceDriver {
	case DriverRedis, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported SEQUENCE_DRIVER %q", c.SequenceDriver)
	}
	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	return nil
}

// NeedsDatabase reports whether any configured driver talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.LedgerDriver == DriverPostgres || c.SequenceDriver == DriverPostgres
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
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	return decimal.NewFromString(valueOrDefault(value, fallback))
}

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return v
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
