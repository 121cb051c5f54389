package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/logger"
	"github.com/vetstack/practice-payments-api/internal/payment"
)

// VerifyResponse is the normalized verification result. Status is the
// provider's own status string; Succeeded collapses it to the one bit most
// callers care about.
type VerifyResponse struct {
	Succeeded bool             `json:"succeeded"`
	Status    string           `json:"status"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// VerifyPayment re-checks a ledger transaction against its provider and
// settles the local row when the provider reports success. It is shared by
// the verify endpoint and the reconciliation job.
func (s *Service) VerifyPayment(ctx context.Context, transactionID uuid.UUID) (*VerifyResponse, error) {
	log := logger.L().With(zap.String("transaction_id", transactionID.String()))

	tx, err := s.cfg.Platform.GetBillingTransaction(ctx, transactionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, configErrorf(CodeTransactionNotFound, "transaction %s not found", transactionID)
	}
	if err != nil {
		return nil, err
	}

	if tx.Status == database.TransactionStatusSucceeded {
		return &VerifyResponse{Succeeded: true, Status: tx.Status, Currency: tx.Currency}, nil
	}
	if !tx.ProviderTransactionID.Valid || tx.ProviderTransactionID.String == "" {
		// The provider call never got far enough to hand back a reference,
		// so there is nothing to ask the provider about.
		return &VerifyResponse{Succeeded: false, Status: tx.Status}, nil
	}

	ownerConfig, err := s.cfg.Platform.GetOwnerPaymentConfigByID(ctx, tx.PaymentConfigID)
	if err != nil {
		return nil, err
	}

	adapter, ok := s.cfg.Registry.Adapter(ownerConfig.ProviderCode)
	if !ok {
		return nil, configErrorf(CodeProviderAdapterMissing,
			"no adapter registered for provider %s", ownerConfig.ProviderCode)
	}

	secretKey, err := s.cfg.Cipher.Decrypt(ownerConfig.SecretKeyEncrypted)
	if err != nil {
		log.Error("owner credential decryption failed", zap.Error(err))
		return nil, configErrorf(CodeCredentialDecryptionError,
			"stored platform credential could not be decrypted")
	}

	result, err := adapter.VerifyPayment(ctx, payment.Credentials{SecretKey: secretKey}, tx.ProviderTransactionID.String)
	if err != nil {
		log.Warn("provider verification failed",
			zap.String("provider", ownerConfig.ProviderCode),
			zap.Error(err))
		return &VerifyResponse{
			Succeeded: false,
			Status:    "unknown",
			Error:     providerMessage(err),
		}, nil
	}

	if result.Succeeded && tx.Status != database.TransactionStatusSucceeded {
		if err := s.settleTransaction(ctx, tx); err != nil {
			return nil, err
		}
	}

	response := &VerifyResponse{
		Succeeded: result.Succeeded,
		Status:    result.ProviderStatus,
		Currency:  result.Currency,
	}
	if !result.Amount.IsZero() {
		amount := result.Amount
		response.Amount = &amount
	}
	return response, nil
}

// ConfirmMarketplaceTransaction settles a transaction on the strength of a
// signature-verified webhook event. Already-settled transactions are a
// no-op so replayed webhook deliveries stay harmless.
func (s *Service) ConfirmMarketplaceTransaction(ctx context.Context, transactionID uuid.UUID, providerReference string) error {
	tx, err := s.cfg.Platform.GetBillingTransaction(ctx, transactionID)
	if errors.Is(err, database.ErrNotFound) {
		return configErrorf(CodeTransactionNotFound, "transaction %s not found", transactionID)
	}
	if err != nil {
		return err
	}

	if tx.Status == database.TransactionStatusSucceeded {
		return nil
	}

	if providerReference != "" && !tx.ProviderTransactionID.Valid {
		if err := s.cfg.Platform.SetProviderReference(ctx, tx.ID, providerReference); err != nil {
			logger.L().Error("failed to backfill provider reference",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
		}
	}

	return s.settleTransaction(ctx, tx)
}

func (s *Service) settleTransaction(ctx context.Context, tx *database.BillingTransaction) error {
	if err := s.cfg.Platform.MarkTransactionSucceeded(ctx, tx.ID); err != nil {
		return fmt.Errorf("mark transaction %s succeeded: %w", tx.ID, err)
	}

	logger.L().Info("transaction settled",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("type", tx.Type),
		zap.String("currency", tx.Currency))

	s.notifyReceipt(ctx, tx)
	return nil
}

func (s *Service) notifyReceipt(ctx context.Context, tx *database.BillingTransaction) {
	if s.cfg.Notifier == nil {
		return
	}

	toEmail := tx.Metadata["email"]
	if toEmail == "" {
		return
	}
	if err := s.cfg.Notifier.PaymentReceipt(toEmail, tx.Amount, tx.Currency, tx.ID.String()); err != nil {
		logger.L().Warn("failed to send payment receipt",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err))
	}
}

// WebhookCredentials resolves the credentials needed to check an inbound
// webhook signature. Stripe signs with a platform-scoped endpoint secret;
// Paystack signs with the same secret key used for API calls.
func (s *Service) WebhookCredentials(ctx context.Context, providerCode string) (payment.Credentials, error) {
	switch providerCode {
	case payment.ProviderStripe:
		return payment.Credentials{WebhookSecret: s.cfg.StripeWebhookSecret}, nil
	case payment.ProviderPaystack:
		ownerConfig, err := s.cfg.Platform.GetOwnerPaymentConfigByProvider(ctx, s.cfg.PaymentEnvironment, providerCode)
		if err != nil {
			return payment.Credentials{}, err
		}
		secretKey, err := s.cfg.Cipher.Decrypt(ownerConfig.SecretKeyEncrypted)
		if err != nil {
			return payment.Credentials{}, configErrorf(CodeCredentialDecryptionError,
				"stored platform credential could not be decrypted")
		}
		return payment.Credentials{SecretKey: secretKey}, nil
	default:
		return payment.Credentials{}, configErrorf(CodeProviderAdapterMissing,
			"no webhook credentials for provider %s", providerCode)
	}
}
