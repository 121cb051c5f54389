// Package database holds the two stores this service reads and writes: the
// platform database (provider catalog, owner payment configuration, billing
// transactions) and the tenant database (practices and their provider
// credentials). The two are independent systems with no shared transaction
// context.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/logger"
)

// ErrNotFound is returned by lookups with an empty result. Callers translate
// it into the matching configuration error.
var ErrNotFound = errors.New("not found")

type PlatformStore interface {
	// SelectProviderForCurrency picks the active provider with the lowest
	// priority among those actively supporting the currency. Ties break on
	// the lowest provider id, so the choice is deterministic.
	SelectProviderForCurrency(ctx context.Context, currencyCode string) (*PaymentProvider, error)

	// GetOwnerPaymentConfig returns the active, verified platform credential
	// for the environment that supports the currency.
	GetOwnerPaymentConfig(ctx context.Context, environment, currencyCode string) (*OwnerPaymentConfig, error)
	GetOwnerPaymentConfigByID(ctx context.Context, id int64) (*OwnerPaymentConfig, error)
	GetOwnerPaymentConfigByProvider(ctx context.Context, environment, providerCode string) (*OwnerPaymentConfig, error)

	CreateBillingTransaction(ctx context.Context, tx *BillingTransaction) error
	GetBillingTransaction(ctx context.Context, id uuid.UUID) (*BillingTransaction, error)
	SetProviderReference(ctx context.Context, id uuid.UUID, providerTransactionID string) error
	MarkTransactionSucceeded(ctx context.Context, id uuid.UUID) error
	MarkTransactionFailed(ctx context.Context, id uuid.UUID, failureCode, failureMessage string) error
	ListStuckPendingTransactions(ctx context.Context, olderThanMinutes, limit int) ([]*BillingTransaction, error)
}

type platformStore struct {
	db *sql.DB
}

func NewPlatformStore(db *sql.DB) PlatformStore {
	return &platformStore{db: db}
}

func (s *platformStore) SelectProviderForCurrency(ctx context.Context, currencyCode string) (*PaymentProvider, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "SelectProviderForCurrency"),
		zap.String("currency", currencyCode),
	)

	const q = `
		SELECT pp.id, pp.code, pp.status, pp.priority
		FROM payment_providers pp
		JOIN provider_currency_support pcs ON pcs.provider_id = pp.id
		WHERE pcs.currency_code = $1
		  AND pcs.is_active = true
		  AND pp.status = 'active'
		ORDER BY pp.priority ASC, pp.id ASC
		LIMIT 1
	`

	var p PaymentProvider
	err := s.db.QueryRowContext(ctx, q, currencyCode).Scan(&p.ID, &p.Code, &p.Status, &p.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &p, nil
}

const ownerConfigColumns = `
	opc.id, opc.environment, opc.provider_id, pp.code,
	opc.secret_key_encrypted, opc.public_key_encrypted,
	opc.is_active, opc.is_verified
`

func (s *platformStore) GetOwnerPaymentConfig(ctx context.Context, environment, currencyCode string) (*OwnerPaymentConfig, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "GetOwnerPaymentConfig"),
		zap.String("environment", environment),
		zap.String("currency", currencyCode),
	)

	const q = `
		SELECT ` + ownerConfigColumns + `
		FROM owner_payment_configurations opc
		JOIN payment_providers pp ON pp.id = opc.provider_id
		WHERE opc.environment = $1
		  AND opc.is_active = true
		  AND opc.is_verified = true
		  AND $2 = ANY(opc.supported_currencies)
		ORDER BY opc.id ASC
		LIMIT 1
	`

	return s.scanOwnerConfig(ctx, log, q, environment, currencyCode)
}

func (s *platformStore) GetOwnerPaymentConfigByID(ctx context.Context, id int64) (*OwnerPaymentConfig, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "GetOwnerPaymentConfigByID"),
		zap.Int64("config_id", id),
	)

	const q = `
		SELECT ` + ownerConfigColumns + `
		FROM owner_payment_configurations opc
		JOIN payment_providers pp ON pp.id = opc.provider_id
		WHERE opc.id = $1
	`

	return s.scanOwnerConfig(ctx, log, q, id)
}

func (s *platformStore) GetOwnerPaymentConfigByProvider(ctx context.Context, environment, providerCode string) (*OwnerPaymentConfig, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "GetOwnerPaymentConfigByProvider"),
		zap.String("environment", environment),
		zap.String("provider", providerCode),
	)

	const q = `
		SELECT ` + ownerConfigColumns + `
		FROM owner_payment_configurations opc
		JOIN payment_providers pp ON pp.id = opc.provider_id
		WHERE opc.environment = $1
		  AND pp.code = $2
		  AND opc.is_active = true
		  AND opc.is_verified = true
		ORDER BY opc.id ASC
		LIMIT 1
	`

	return s.scanOwnerConfig(ctx, log, q, environment, providerCode)
}

func (s *platformStore) scanOwnerConfig(ctx context.Context, log *zap.Logger, query string, args ...interface{}) (*OwnerPaymentConfig, error) {
	var cfg OwnerPaymentConfig
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&cfg.ID, &cfg.Environment, &cfg.ProviderID, &cfg.ProviderCode,
		&cfg.SecretKeyEncrypted, &cfg.PublicKeyEncrypted,
		&cfg.IsActive, &cfg.IsVerified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &cfg, nil
}

func (s *platformStore) CreateBillingTransaction(ctx context.Context, tx *BillingTransaction) error {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "CreateBillingTransaction"),
		zap.String("transaction_id", tx.ID.String()),
	)

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO billing_transactions (
			id, tenant_id, payment_config_id, type,
			amount, currency, status, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	_, err = s.db.ExecContext(ctx, q,
		tx.ID, tx.TenantID, tx.PaymentConfigID, tx.Type,
		tx.Amount.String(), tx.Currency, tx.Status, metadata,
	)
	if err != nil {
		log.Error("insert failed", zap.Error(err))
		return err
	}

	return nil
}

const billingTransactionColumns = `
	id, tenant_id, payment_config_id, type,
	amount, currency, status,
	provider_transaction_id, failure_code, failure_message,
	metadata, created_at, updated_at
`

func (s *platformStore) GetBillingTransaction(ctx context.Context, id uuid.UUID) (*BillingTransaction, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "GetBillingTransaction"),
		zap.String("transaction_id", id.String()),
	)

	const q = `
		SELECT ` + billingTransactionColumns + `
		FROM billing_transactions
		WHERE id = $1
	`

	tx, err := scanBillingTransaction(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return tx, nil
}

func (s *platformStore) SetProviderReference(ctx context.Context, id uuid.UUID, providerTransactionID string) error {
	const q = `
		UPDATE billing_transactions
		SET provider_transaction_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "SetProviderReference", q, id, providerTransactionID)
}

func (s *platformStore) MarkTransactionSucceeded(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE billing_transactions
		SET status = 'succeeded', updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "MarkTransactionSucceeded", q, id)
}

func (s *platformStore) MarkTransactionFailed(ctx context.Context, id uuid.UUID, failureCode, failureMessage string) error {
	const q = `
		UPDATE billing_transactions
		SET status = 'failed', failure_code = $2, failure_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "MarkTransactionFailed", q, id, failureCode, failureMessage)
}

func (s *platformStore) ListStuckPendingTransactions(ctx context.Context, olderThanMinutes, limit int) ([]*BillingTransaction, error) {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", "ListStuckPendingTransactions"),
		zap.Int("older_than_minutes", olderThanMinutes),
	)

	const q = `
		SELECT ` + billingTransactionColumns + `
		FROM billing_transactions
		WHERE status = 'pending'
		  AND created_at < NOW() - ($1 * INTERVAL '1 minute')
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, q, olderThanMinutes, limit)
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var result []*BillingTransaction
	for rows.Next() {
		tx, err := scanBillingTransaction(rows)
		if err != nil {
			log.Error("scan failed", zap.Error(err))
			return nil, err
		}
		result = append(result, tx)
	}

	return result, rows.Err()
}

func (s *platformStore) exec(ctx context.Context, method, query string, args ...interface{}) error {
	log := logger.L().With(
		zap.String("store", "platform"),
		zap.String("method", method),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("exec failed", zap.Error(err))
		return err
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBillingTransaction(row rowScanner) (*BillingTransaction, error) {
	var tx BillingTransaction
	var amount string
	var metadata []byte

	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.PaymentConfigID, &tx.Type,
		&amount, &tx.Currency, &tx.Status,
		&tx.ProviderTransactionID, &tx.FailureCode, &tx.FailureMessage,
		&metadata, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = parseAmount(amount)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &tx, nil
}
