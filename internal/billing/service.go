// Package billing is the payment orchestration layer: it resolves a practice
// or tenant to a provider, decrypts the right credentials, drives the
// provider adapter, and records marketplace charges in the billing
// transaction ledger.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/crypto"
	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/idempotency"
	"github.com/vetstack/practice-payments-api/internal/logger"
	"github.com/vetstack/practice-payments-api/internal/payment"
)

// PaymentResponse is the structured result returned to external
// collaborators. Expected domain failures come back with Success=false and
// a displayable Error, never as a Go error.
type PaymentResponse struct {
	Success       bool   `json:"success"`
	Provider      string `json:"provider"`
	PaymentID     string `json:"payment_id,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
	ClientToken   string `json:"client_token,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// IdempotencyStore is satisfied by idempotency.Store.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, payload []byte) ([]byte, error)
}

// Notifier delivers payment outcome notifications. Implementations must
// tolerate being called from request handlers; delivery failures are logged
// and never fail the payment flow.
type Notifier interface {
	PaymentReceipt(toEmail string, amount decimal.Decimal, currency, transactionID string) error
	PaymentFailureAlert(toEmail string, amount decimal.Decimal, currency, transactionID, reason string) error
}

type ServiceConfig struct {
	Tenants  database.TenantStore
	Platform database.PlatformStore
	Cipher   *crypto.Cipher
	Registry *payment.Registry

	// Idempotency and Notifier are optional.
	Idempotency IdempotencyStore
	Notifier    Notifier

	// PaymentEnvironment is "sandbox" or "production" and selects the owner
	// payment configuration for marketplace charges.
	PaymentEnvironment string

	// CallbackURL is handed to redirect-based providers.
	CallbackURL string

	// StripeWebhookSecret signs inbound Stripe webhooks. It is platform
	// scoped, unlike the per-tenant API keys.
	StripeWebhookSecret string
}

type Service struct {
	cfg ServiceConfig
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg}
}

type CreatePaymentParams struct {
	PracticeID  uuid.UUID
	Amount      decimal.Decimal
	Email       string
	Description string
	Metadata    map[string]string
}

// CreatePayment is the practice-funded flow: currency resolution, provider
// selection, practice credential lookup, then a single adapter call. It is
// stateless routing with no local durable write, so the caller owns
// idempotency for this flow.
func (s *Service) CreatePayment(ctx context.Context, params CreatePaymentParams) (*PaymentResponse, error) {
	log := logger.L().With(
		zap.String("flow", "create_payment"),
		zap.String("practice_id", params.PracticeID.String()),
	)

	practice, err := s.cfg.Tenants.GetPractice(ctx, params.PracticeID)
	if errors.Is(err, database.ErrNotFound) {
		return failureResponse("none", CodePracticeNotFound,
			fmt.Sprintf("practice %s not found", params.PracticeID)), nil
	}
	if err != nil {
		return nil, err
	}

	if !practice.CurrencyCode.Valid || practice.CurrencyCode.String == "" {
		return failureResponse("none", CodeNoCurrencyConfigured,
			fmt.Sprintf("practice %q has no currency configured", practice.Name)), nil
	}
	currencyCode := practice.CurrencyCode.String

	provider, err := s.cfg.Platform.SelectProviderForCurrency(ctx, currencyCode)
	if errors.Is(err, database.ErrNotFound) {
		return failureResponse("none", CodeNoProviderForCurrency,
			fmt.Sprintf("no active payment provider supports currency %s", currencyCode)), nil
	}
	if err != nil {
		return nil, err
	}

	credential, err := s.cfg.Tenants.GetPaymentCredential(ctx, params.PracticeID, provider.Code)
	if errors.Is(err, database.ErrNotFound) {
		return failureResponse(provider.Code, CodeProviderNotConfigured,
			fmt.Sprintf("%s is not configured for this practice: ask a practice admin to add %s credentials for %s",
				provider.Code, provider.Code, currencyCode)), nil
	}
	if err != nil {
		return nil, err
	}

	adapter, ok := s.cfg.Registry.Adapter(provider.Code)
	if !ok {
		return failureResponse(provider.Code, CodeProviderAdapterMissing,
			fmt.Sprintf("no adapter registered for provider %s", provider.Code)), nil
	}

	secretKey, err := s.cfg.Cipher.Decrypt(credential.SecretKeyEncrypted)
	if err != nil {
		log.Error("credential decryption failed", zap.Error(err))
		return failureResponse(provider.Code, CodeCredentialDecryptionError,
			fmt.Sprintf("stored %s credential could not be decrypted", provider.Code)), nil
	}

	creds := payment.Credentials{
		SecretKey: secretKey,
		PublicKey: credential.PublicKey,
	}

	result, err := adapter.CreatePayment(ctx, creds, payment.CreatePaymentParams{
		Amount:      params.Amount,
		Currency:    currencyCode,
		Email:       params.Email,
		Description: params.Description,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    copyMetadata(params.Metadata),
	})
	if err != nil {
		log.Warn("provider rejected payment",
			zap.String("provider", provider.Code),
			zap.Error(err))
		return &PaymentResponse{
			Success:   false,
			Provider:  provider.Code,
			ErrorCode: CodePaymentInitFailed,
			Error:     providerMessage(err),
		}, nil
	}

	return &PaymentResponse{
		Success:     true,
		Provider:    provider.Code,
		PaymentID:   result.PaymentID,
		PaymentURL:  result.PaymentURL,
		ClientToken: result.ClientToken,
	}, nil
}

type MarketplacePaymentParams struct {
	TenantID       uuid.UUID
	PracticeID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Email          string
	Description    string
	Metadata       map[string]string
	AddonID        string
	SubscriptionID string

	// IdempotencyKey is optional. A repeated key returns the stored prior
	// result instead of charging again.
	IdempotencyKey string
}

// CreateMarketplacePayment is the platform-funded flow. Its one hard
// invariant: the pending BillingTransaction row is written before the
// provider is called, so a timed-out or failed provider call always leaves
// an auditable row for reconciliation.
func (s *Service) CreateMarketplacePayment(ctx context.Context, params MarketplacePaymentParams) (*PaymentResponse, error) {
	log := logger.L().With(
		zap.String("flow", "create_marketplace_payment"),
		zap.String("tenant_id", params.TenantID.String()),
		zap.String("currency", params.Currency),
	)

	idemKey := s.idempotencyKey(params)
	if idemKey != "" {
		if prior, ok := s.priorResult(ctx, idemKey); ok {
			log.Info("returning stored result for repeated idempotency key")
			return prior, nil
		}
	}

	ownerConfig, err := s.cfg.Platform.GetOwnerPaymentConfig(ctx, s.cfg.PaymentEnvironment, params.Currency)
	if errors.Is(err, database.ErrNotFound) {
		// Pure configuration failure: nothing was attempted, so there is
		// nothing to reconcile and no ledger row is written.
		return failureResponse("none", CodeNoVerifiedPlatformConfig,
			fmt.Sprintf("no active and verified platform payment configuration supports %s in %s",
				params.Currency, s.cfg.PaymentEnvironment)), nil
	}
	if err != nil {
		return nil, err
	}

	secretKey, err := s.cfg.Cipher.Decrypt(ownerConfig.SecretKeyEncrypted)
	if err != nil {
		log.Error("owner credential decryption failed", zap.Error(err))
		return failureResponse(ownerConfig.ProviderCode, CodeCredentialDecryptionError,
			"stored platform credential could not be decrypted"), nil
	}

	publicKey := ""
	if ownerConfig.PublicKeyEncrypted != "" {
		publicKey, err = s.cfg.Cipher.Decrypt(ownerConfig.PublicKeyEncrypted)
		if err != nil {
			log.Error("owner public key decryption failed", zap.Error(err))
			return failureResponse(ownerConfig.ProviderCode, CodeCredentialDecryptionError,
				"stored platform credential could not be decrypted"), nil
		}
	}

	adapter, ok := s.cfg.Registry.Adapter(ownerConfig.ProviderCode)
	if !ok {
		return failureResponse(ownerConfig.ProviderCode, CodeProviderAdapterMissing,
			fmt.Sprintf("no adapter registered for provider %s", ownerConfig.ProviderCode)), nil
	}

	tx := &database.BillingTransaction{
		ID:              uuid.New(),
		TenantID:        params.TenantID,
		PaymentConfigID: ownerConfig.ID,
		Type:            transactionType(params),
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          database.TransactionStatusPending,
		Metadata:        marketplaceMetadata(params),
	}

	// Ledger first. If this write fails there must be no charge attempt:
	// a charge without a row is the one state the design forbids.
	if err := s.cfg.Platform.CreateBillingTransaction(ctx, tx); err != nil {
		log.Error("failed to write pending transaction", zap.Error(err))
		return failureResponse(ownerConfig.ProviderCode, CodeTransactionWriteFailed,
			"failed to record transaction; no charge was attempted"), nil
	}

	metadata := copyMetadata(params.Metadata)
	metadata["transaction_id"] = tx.ID.String()

	creds := payment.Credentials{SecretKey: secretKey, PublicKey: publicKey}

	result, err := adapter.CreatePayment(ctx, creds, payment.CreatePaymentParams{
		Amount:      params.Amount,
		Currency:    params.Currency,
		Email:       params.Email,
		Description: params.Description,
		Reference:   tx.ID.String(),
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		message := providerMessage(err)
		if updateErr := s.cfg.Platform.MarkTransactionFailed(ctx, tx.ID, CodePaymentInitFailed, message); updateErr != nil {
			log.Error("failed to mark transaction failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(updateErr))
		}
		s.notifyFailure(params.Email, params.Amount, params.Currency, tx.ID.String(), message)

		response := &PaymentResponse{
			Success:       false,
			Provider:      ownerConfig.ProviderCode,
			TransactionID: tx.ID.String(),
			ErrorCode:     CodePaymentInitFailed,
			Error:         message,
		}
		s.storeResult(ctx, idemKey, response)
		return response, nil
	}

	if result.PaymentID != "" {
		if err := s.cfg.Platform.SetProviderReference(ctx, tx.ID, result.PaymentID); err != nil {
			// The charge went through; verification can still find the row
			// through metadata, so log and keep going.
			log.Error("failed to persist provider reference",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
		}
	}

	response := &PaymentResponse{
		Success:       true,
		Provider:      ownerConfig.ProviderCode,
		PaymentID:     result.PaymentID,
		PaymentURL:    result.PaymentURL,
		ClientToken:   result.ClientToken,
		TransactionID: tx.ID.String(),
	}
	s.storeResult(ctx, idemKey, response)
	return response, nil
}

func (s *Service) idempotencyKey(params MarketplacePaymentParams) string {
	if params.IdempotencyKey == "" || s.cfg.Idempotency == nil {
		return ""
	}
	return fmt.Sprintf("idem:payment:%s:%s", params.TenantID, params.IdempotencyKey)
}

func (s *Service) priorResult(ctx context.Context, key string) (*PaymentResponse, bool) {
	payload, err := s.cfg.Idempotency.Get(ctx, key)
	if errors.Is(err, idempotency.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		logger.L().Warn("idempotency lookup failed", zap.Error(err))
		return nil, false
	}

	var response PaymentResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		logger.L().Warn("stored idempotency payload is malformed", zap.Error(err))
		return nil, false
	}
	return &response, true
}

// storeResult records the outcome under the idempotency key. Only outcomes
// with a ledger row are stored: configuration failures must stay retryable
// after an admin fixes the setup.
func (s *Service) storeResult(ctx context.Context, key string, response *PaymentResponse) {
	if key == "" {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if _, err := s.cfg.Idempotency.Put(ctx, key, payload); err != nil {
		logger.L().Warn("failed to store idempotency result", zap.Error(err))
	}
}

func (s *Service) notifyFailure(email string, amount decimal.Decimal, currency, transactionID, reason string) {
	if s.cfg.Notifier == nil || email == "" {
		return
	}
	if err := s.cfg.Notifier.PaymentFailureAlert(email, amount, currency, transactionID, reason); err != nil {
		logger.L().Warn("failed to send payment failure alert", zap.Error(err))
	}
}

func transactionType(params MarketplacePaymentParams) string {
	switch {
	case params.AddonID != "":
		return database.TransactionTypeAddon
	case params.SubscriptionID != "":
		return database.TransactionTypeSubscription
	default:
		return database.TransactionTypeCharge
	}
}

func marketplaceMetadata(params MarketplacePaymentParams) map[string]string {
	metadata := copyMetadata(params.Metadata)
	if params.AddonID != "" {
		metadata["addon_id"] = params.AddonID
	}
	if params.SubscriptionID != "" {
		metadata["subscription_id"] = params.SubscriptionID
	}
	if params.PracticeID != uuid.Nil {
		metadata["practice_id"] = params.PracticeID.String()
	}
	return metadata
}

func copyMetadata(metadata map[string]string) map[string]string {
	copied := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		copied[k] = v
	}
	return copied
}

func failureResponse(provider, code, message string) *PaymentResponse {
	return &PaymentResponse{
		Success:   false,
		Provider:  provider,
		ErrorCode: code,
		Error:     message,
	}
}

func providerMessage(err error) string {
	var provErr *payment.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Message
	}
	return err.Error()
}
