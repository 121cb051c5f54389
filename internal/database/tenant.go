package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/logger"
)

type TenantStore interface {
	GetPractice(ctx context.Context, practiceID uuid.UUID) (*Practice, error)

	// GetPaymentCredential returns the practice's enabled credential for the
	// provider. Disabled credentials are treated as absent.
	GetPaymentCredential(ctx context.Context, practiceID uuid.UUID, providerCode string) (*PracticeCredential, error)
}

type tenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) TenantStore {
	return &tenantStore{db: db}
}

func (s *tenantStore) GetPractice(ctx context.Context, practiceID uuid.UUID) (*Practice, error) {
	log := logger.L().With(
		zap.String("store", "tenant"),
		zap.String("method", "GetPractice"),
		zap.String("practice_id", practiceID.String()),
	)

	const q = `
		SELECT id, tenant_id, name, email, currency_code
		FROM practices
		WHERE id = $1
	`

	var p Practice
	err := s.db.QueryRowContext(ctx, q, practiceID).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Email, &p.CurrencyCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &p, nil
}

func (s *tenantStore) GetPaymentCredential(ctx context.Context, practiceID uuid.UUID, providerCode string) (*PracticeCredential, error) {
	log := logger.L().With(
		zap.String("store", "tenant"),
		zap.String("method", "GetPaymentCredential"),
		zap.String("practice_id", practiceID.String()),
		zap.String("provider", providerCode),
	)

	const q = `
		SELECT practice_id, provider_code, secret_key_encrypted, public_key, is_enabled
		FROM practice_payment_provider_credentials
		WHERE practice_id = $1
		  AND provider_code = $2
		  AND is_enabled = true
	`

	var c PracticeCredential
	err := s.db.QueryRowContext(ctx, q, practiceID, providerCode).Scan(
		&c.PracticeID, &c.ProviderCode, &c.SecretKeyEncrypted, &c.PublicKey, &c.IsEnabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &c, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", raw, err)
	}
	return amount, nil
}
