package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Practice is the tenant-side business unit that receives customer payments.
// CurrencyCode is nullable: a practice without a configured currency cannot
// take payments.
type Practice struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Email        string
	CurrencyCode sql.NullString
}

// PaymentProvider is a row of the platform-owned provider catalog.
type PaymentProvider struct {
	ID       int64
	Code     string
	Status   string
	Priority int
}

const (
	ProviderStatusActive   = "active"
	ProviderStatusDisabled = "disabled"
)

// PracticeCredential is a per-practice provider secret. SecretKeyEncrypted
// holds the "iv:ciphertext" value; it is only ever decrypted immediately
// before an adapter call.
type PracticeCredential struct {
	PracticeID         uuid.UUID
	ProviderCode       string
	SecretKeyEncrypted string
	PublicKey          string
	IsEnabled          bool
}

// OwnerPaymentConfig is the platform-level credential used for marketplace
// (platform-billed) charges.
type OwnerPaymentConfig struct {
	ID                 int64
	Environment        string
	ProviderID         int64
	ProviderCode       string
	SecretKeyEncrypted string
	PublicKeyEncrypted string
	IsActive           bool
	IsVerified         bool
}

// BillingTransaction is the marketplace payment ledger row. It is written
// as "pending" before the provider is called and never deleted.
type BillingTransaction struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	PaymentConfigID       int64
	Type                  string
	Amount                decimal.Decimal
	Currency              string
	Status                string
	ProviderTransactionID sql.NullString
	FailureCode           sql.NullString
	FailureMessage        sql.NullString
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const (
	TransactionStatusPending   = "pending"
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusFailed    = "failed"
)

const (
	TransactionTypeAddon        = "addon"
	TransactionTypeSubscription = "subscription"
	TransactionTypeCharge       = "charge"
)
