package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// PaymentEnvironment selects which owner payment configuration is used for
// marketplace charges. It is independent of the deployment Environment so a
// staging deployment can still charge against sandbox provider accounts.
type PaymentEnvironment string

const (
	PaymentSandbox    PaymentEnvironment = "sandbox"
	PaymentProduction PaymentEnvironment = "production"
)

type Config struct {
	Environment Environment
	Port        string
	AppURL      string

	PlatformDatabaseURL string
	TenantDatabaseURL   string
	RedisURL            string

	PaymentEnvironment PaymentEnvironment

	// CredentialEncryptionKey is the decoded 256-bit key for the encrypted
	// provider credential columns. The env var is hex-encoded (64 chars).
	CredentialEncryptionKey []byte

	StripeWebhookSecret string
	PaystackBaseURL     string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	PendingReconcileAfterMinutes int
}

func Load() (*Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if env != "production" {
		if err := godotenv.Load(); err != nil {
			_ = godotenv.Load("../../.env")
		}
	}

	key, err := decodeCredentialKey(os.Getenv("CREDENTIAL_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: Environment(env),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:3000"),

		PlatformDatabaseURL: getEnv("PLATFORM_DATABASE_URL", ""),
		TenantDatabaseURL:   getEnv("TENANT_DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),

		PaymentEnvironment: PaymentEnvironment(getEnv("PAYMENT_ENVIRONMENT", "sandbox")),

		CredentialEncryptionKey: key,

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PaystackBaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "billing@vetstack.io"),
		FromName:     getEnv("FROM_NAME", "VetStack Billing"),

		PendingReconcileAfterMinutes: getEnvAsInt("PENDING_RECONCILE_AFTER_MINUTES", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decodeCredentialKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

func (c *Config) Validate() error {
	if c.PlatformDatabaseURL == "" {
		return fmt.Errorf("PLATFORM_DATABASE_URL is required")
	}

	if c.TenantDatabaseURL == "" {
		return fmt.Errorf("TENANT_DATABASE_URL is required")
	}

	if len(c.CredentialEncryptionKey) != 32 {
		return fmt.Errorf("credential encryption key must be 32 bytes, got %d", len(c.CredentialEncryptionKey))
	}

	if c.PaymentEnvironment != PaymentSandbox && c.PaymentEnvironment != PaymentProduction {
		return fmt.Errorf("PAYMENT_ENVIRONMENT must be 'sandbox' or 'production'")
	}

	if c.SMTPHost != "" || c.SMTPUsername != "" || c.SMTPPassword != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("incomplete SMTP configuration: all SMTP fields must be set")
		}
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) IsStaging() bool {
	return c.Environment == Staging
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
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
		return defaultValue
	}

	return value
}
