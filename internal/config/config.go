package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/memberhub/backend/pkg/payment"
)

// Billing providers.
const (
	ProviderStripe = payment.ProviderStripe
	ProviderMock   = payment.ProviderMock
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	BillingProvider     string
	BillingCurrency     string
	StripeSecretKey     string
	StripeWebhookSecret string
	PublicBaseURL       string

	CronSecret       string
	SweepExemptRoles []string
	SyncConcurrency  int

	RedisURL     string
	NotifyStream string

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("PORT", "4001"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be a number: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	provider := strings.ToLower(getEnv("BILLING_PROVIDER", ProviderStripe))
	if provider != ProviderStripe && provider != ProviderMock {
		return nil, fmt.Errorf("BILLING_PROVIDER must be %q or %q, got %q", ProviderStripe, ProviderMock, provider)
	}

	currency := strings.ToLower(getEnv("BILLING_CURRENCY", "eur"))
	if len(currency) != 3 {
		return nil, fmt.Errorf("BILLING_CURRENCY must be a three-letter code, got %q", currency)
	}

	concurrency, err := strconv.Atoi(getEnv("SYNC_CONCURRENCY", "4"))
	if err != nil || concurrency < 1 {
		return nil, fmt.Errorf("SYNC_CONCURRENCY must be a positive number")
	}

	return &Config{
		Port:        port,
		JWTSecret:   jwtSecret,
		DatabaseURL: dbURL,
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		BillingProvider:     provider,
		BillingCurrency:     currency,
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		CronSecret:       getEnv("CRON_SECRET", ""),
		SweepExemptRoles: splitList(getEnv("SWEEP_EXEMPT_ROLES", "admin")),
		SyncConcurrency:  concurrency,

		RedisURL:     getEnv("REDIS_URL", ""),
		NotifyStream: getEnv("NOTIFY_STREAM", "memberhub:events"),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}, nil
}

// LoadDatabaseURL reads only DATABASE_URL, for tools that do not serve HTTP.
func LoadDatabaseURL() (string, error) {
	_ = godotenv.Load()
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	return dbURL, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
