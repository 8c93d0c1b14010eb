// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Marketplace settings
	CommissionPct   decimal.Decimal // platform fee as a percentage of final price
	DefaultCurrency string

	// Lifecycle windows
	OfferDefaultTTL       time.Duration // pending offers expire after this unless the buyer sets expiresAt
	EscrowAutoReleaseAfter time.Duration // held escrows auto-release this long after order completion
	InvoiceDueAfter       time.Duration // issued invoices fall overdue after this

	// Payments
	StripeSecretKey     string // empty = stub processor (development)
	StripeWebhookSecret string

	// Security
	AdminSecret  string // gates API-key issuance and admin actions
	RateLimitRPS int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultCommissionPct = "10"
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	commission, err := decimal.NewFromString(getEnv("COMMISSION_PCT", DefaultCommissionPct))
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_PCT: %w", err)
	}

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CommissionPct:          commission,
		DefaultCurrency:        getEnv("DEFAULT_CURRENCY", "USD"),
		OfferDefaultTTL:        getEnvDuration("OFFER_DEFAULT_TTL", 7*24*time.Hour),
		EscrowAutoReleaseAfter: getEnvDuration("ESCROW_AUTO_RELEASE_AFTER", 72*time.Hour),
		InvoiceDueAfter:        getEnvDuration("INVOICE_DUE_AFTER", 14*24*time.Hour),
		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:           int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CommissionPct.IsNegative() || c.CommissionPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("COMMISSION_PCT must be between 0 and 100")
	}

	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
