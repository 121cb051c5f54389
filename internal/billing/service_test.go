package billing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetstack/practice-payments-api/internal/crypto"
	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/idempotency"
	"github.com/vetstack/practice-payments-api/internal/payment"
)

type fakeTenantStore struct {
	practice      *database.Practice
	practiceErr   error
	credential    *database.PracticeCredential
	credentialErr error
}

func (f *fakeTenantStore) GetPractice(_ context.Context, _ uuid.UUID) (*database.Practice, error) {
	return f.practice, f.practiceErr
}

func (f *fakeTenantStore) GetPaymentCredential(_ context.Context, _ uuid.UUID, _ string) (*database.PracticeCredential, error) {
	return f.credential, f.credentialErr
}

// fakePlatformStore records every mutation, plus an event trail shared with
// fakeAdapter so tests can assert ordering between ledger writes and
// provider calls.
type fakePlatformStore struct {
	provider    *database.PaymentProvider
	providerErr error

	ownerConfig    *database.OwnerPaymentConfig
	ownerConfigErr error

	transactions map[uuid.UUID]*database.BillingTransaction
	createErr    error

	failedCode    string
	failedMessage string

	events *[]string
}

func newFakePlatformStore(events *[]string) *fakePlatformStore {
	return &fakePlatformStore{
		transactions: make(map[uuid.UUID]*database.BillingTransaction),
		events:       events,
	}
}

func (f *fakePlatformStore) SelectProviderForCurrency(_ context.Context, _ string) (*database.PaymentProvider, error) {
	return f.provider, f.providerErr
}

func (f *fakePlatformStore) GetOwnerPaymentConfig(_ context.Context, _, _ string) (*database.OwnerPaymentConfig, error) {
	return f.ownerConfig, f.ownerConfigErr
}

func (f *fakePlatformStore) GetOwnerPaymentConfigByID(_ context.Context, _ int64) (*database.OwnerPaymentConfig, error) {
	return f.ownerConfig, f.ownerConfigErr
}

func (f *fakePlatformStore) GetOwnerPaymentConfigByProvider(_ context.Context, _, _ string) (*database.OwnerPaymentConfig, error) {
	return f.ownerConfig, f.ownerConfigErr
}

func (f *fakePlatformStore) CreateBillingTransaction(_ context.Context, tx *database.BillingTransaction) error {
	if f.createErr != nil {
		return f.createErr
	}
	*f.events = append(*f.events, "ledger_write")
	copied := *tx
	f.transactions[tx.ID] = &copied
	return nil
}

func (f *fakePlatformStore) GetBillingTransaction(_ context.Context, id uuid.UUID) (*database.BillingTransaction, error) {
	tx, ok := f.transactions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakePlatformStore) SetProviderReference(_ context.Context, id uuid.UUID, ref string) error {
	tx, ok := f.transactions[id]
	if !ok {
		return database.ErrNotFound
	}
	tx.ProviderTransactionID = sql.NullString{String: ref, Valid: true}
	return nil
}

func (f *fakePlatformStore) MarkTransactionSucceeded(_ context.Context, id uuid.UUID) error {
	tx, ok := f.transactions[id]
	if !ok {
		return database.ErrNotFound
	}
	tx.Status = database.TransactionStatusSucceeded
	return nil
}

func (f *fakePlatformStore) MarkTransactionFailed(_ context.Context, id uuid.UUID, code, message string) error {
	tx, ok := f.transactions[id]
	if !ok {
		return database.ErrNotFound
	}
	tx.Status = database.TransactionStatusFailed
	f.failedCode = code
	f.failedMessage = message
	return nil
}

func (f *fakePlatformStore) ListStuckPendingTransactions(_ context.Context, _, _ int) ([]*database.BillingTransaction, error) {
	var out []*database.BillingTransaction
	for _, tx := range f.transactions {
		if tx.Status == database.TransactionStatusPending {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeAdapter struct {
	code string

	createCalls int
	lastCreds   payment.Credentials
	lastParams  payment.CreatePaymentParams
	createResp  *payment.CreatePaymentResult
	createErr   error

	verifyResp *payment.VerifyPaymentResult
	verifyErr  error

	events *[]string
}

func (f *fakeAdapter) Code() string { return f.code }

func (f *fakeAdapter) CreatePayment(_ context.Context, creds payment.Credentials, params payment.CreatePaymentParams) (*payment.CreatePaymentResult, error) {
	f.createCalls++
	f.lastCreds = creds
	f.lastParams = params
	if f.events != nil {
		*f.events = append(*f.events, "provider_call")
	}
	return f.createResp, f.createErr
}

func (f *fakeAdapter) VerifyPayment(_ context.Context, creds payment.Credentials, _ string) (*payment.VerifyPaymentResult, error) {
	f.lastCreds = creds
	return f.verifyResp, f.verifyErr
}

func (f *fakeAdapter) Refund(_ context.Context, _ payment.Credentials, _ string, _ *decimal.Decimal) (*payment.RefundResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) ValidateWebhookSignature(_ []byte, _ string, _ payment.Credentials) bool {
	return true
}

type fakeIdemStore struct {
	values map[string][]byte
}

func (f *fakeIdemStore) Get(_ context.Context, key string) ([]byte, error) {
	payload, ok := f.values[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	return payload, nil
}

func (f *fakeIdemStore) Put(_ context.Context, key string, payload []byte) ([]byte, error) {
	if existing, ok := f.values[key]; ok {
		return existing, nil
	}
	f.values[key] = payload
	return payload, nil
}

type fixture struct {
	tenants  *fakeTenantStore
	platform *fakePlatformStore
	adapter  *fakeAdapter
	idem     *fakeIdemStore
	cipher   *crypto.Cipher
	service  *Service
	events   []string
}

func newFixture(t *testing.T, providerCode string) *fixture {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)

	f := &fixture{
		tenants: &fakeTenantStore{},
		idem:    &fakeIdemStore{values: make(map[string][]byte)},
		cipher:  cipher,
	}
	f.platform = newFakePlatformStore(&f.events)
	f.adapter = &fakeAdapter{code: providerCode, events: &f.events}

	registry := payment.NewRegistry()
	registry.Register(f.adapter)

	f.service = NewService(ServiceConfig{
		Tenants:             f.tenants,
		Platform:            f.platform,
		Cipher:              cipher,
		Registry:            registry,
		Idempotency:         f.idem,
		PaymentEnvironment:  "sandbox",
		CallbackURL:         "https://app.vetstack.test/billing/callback",
		StripeWebhookSecret: "whsec_test",
	})
	return f
}

func (f *fixture) encrypt(t *testing.T, plaintext string) string {
	t.Helper()
	encrypted, err := f.cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return encrypted
}

func TestCreatePayment(t *testing.T) {
	practiceID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{
			ID:           practiceID,
			Name:         "Lekki Vet Clinic",
			CurrencyCode: sql.NullString{String: "NGN", Valid: true},
		}
		f.platform.provider = &database.PaymentProvider{ID: 2, Code: "paystack", Priority: 1}
		f.tenants.credential = &database.PracticeCredential{
			ProviderCode:       "paystack",
			SecretKeyEncrypted: f.encrypt(t, "sk_test_practice"),
			PublicKey:          "pk_test_practice",
			IsEnabled:          true,
		}
		f.adapter.createResp = &payment.CreatePaymentResult{
			PaymentID:  "ref_001",
			PaymentURL: "https://checkout.paystack.com/ref_001",
		}

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{
			PracticeID: practiceID,
			Amount:     decimal.RequireFromString("25.00"),
			Email:      "owner@lekkivet.ng",
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "paystack", resp.Provider)
		assert.Equal(t, "ref_001", resp.PaymentID)

		// Decrypted keys reach the adapter; encrypted values never do.
		assert.Equal(t, "sk_test_practice", f.adapter.lastCreds.SecretKey)
		assert.Equal(t, "pk_test_practice", f.adapter.lastCreds.PublicKey)
		assert.Equal(t, "NGN", f.adapter.lastParams.Currency)
	})

	t.Run("PracticeNotFound", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practiceErr = database.ErrNotFound

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "none", resp.Provider)
		assert.Equal(t, CodePracticeNotFound, resp.ErrorCode)
	})

	t.Run("NoCurrencyConfigured", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{ID: practiceID, Name: "New Practice"}

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "none", resp.Provider)
		assert.Equal(t, CodeNoCurrencyConfigured, resp.ErrorCode)

		// Short-circuits before provider selection or any adapter call.
		assert.Zero(t, f.adapter.createCalls)
	})

	t.Run("NoProviderForCurrency", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{
			ID:           practiceID,
			CurrencyCode: sql.NullString{String: "CHF", Valid: true},
		}
		f.platform.providerErr = database.ErrNotFound

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.Equal(t, CodeNoProviderForCurrency, resp.ErrorCode)
		assert.Contains(t, resp.Error, "CHF")
	})

	t.Run("ProviderNotConfigured", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{
			ID:           practiceID,
			CurrencyCode: sql.NullString{String: "NGN", Valid: true},
		}
		f.platform.provider = &database.PaymentProvider{ID: 2, Code: "paystack"}
		f.tenants.credentialErr = database.ErrNotFound

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.Equal(t, "paystack", resp.Provider)
		assert.Equal(t, CodeProviderNotConfigured, resp.ErrorCode)
		assert.Contains(t, resp.Error, "paystack is not configured for this practice")
	})

	t.Run("CredentialDecryptionError", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{
			ID:           practiceID,
			CurrencyCode: sql.NullString{String: "NGN", Valid: true},
		}
		f.platform.provider = &database.PaymentProvider{ID: 2, Code: "paystack"}
		f.tenants.credential = &database.PracticeCredential{
			ProviderCode:       "paystack",
			SecretKeyEncrypted: "deadbeef:not-hex!",
			IsEnabled:          true,
		}

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.Equal(t, CodeCredentialDecryptionError, resp.ErrorCode)
		assert.Zero(t, f.adapter.createCalls)
		// The failure message never includes ciphertext or key material.
		assert.NotContains(t, resp.Error, "deadbeef")
	})

	t.Run("ProviderDeclines", func(t *testing.T) {
		f := newFixture(t, payment.ProviderPaystack)
		f.tenants.practice = &database.Practice{
			ID:           practiceID,
			CurrencyCode: sql.NullString{String: "NGN", Valid: true},
		}
		f.platform.provider = &database.PaymentProvider{ID: 2, Code: "paystack"}
		f.tenants.credential = &database.PracticeCredential{
			ProviderCode:       "paystack",
			SecretKeyEncrypted: f.encrypt(t, "sk_test_bad"),
			IsEnabled:          true,
		}
		f.adapter.createErr = &payment.ProviderError{Provider: "paystack", Message: "Invalid key"}

		resp, err := f.service.CreatePayment(context.Background(), CreatePaymentParams{PracticeID: practiceID})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, CodePaymentInitFailed, resp.ErrorCode)
		assert.Equal(t, "Invalid key", resp.Error)
	})
}

func marketplaceFixture(t *testing.T) *fixture {
	f := newFixture(t, payment.ProviderStripe)
	f.platform.ownerConfig = &database.OwnerPaymentConfig{
		ID:                 7,
		Environment:        "sandbox",
		ProviderCode:       "stripe",
		SecretKeyEncrypted: f.encrypt(t, "sk_test_owner"),
		PublicKeyEncrypted: f.encrypt(t, "pk_test_owner"),
		IsActive:           true,
		IsVerified:         true,
	}
	return f
}

func TestCreateMarketplacePayment(t *testing.T) {
	tenantID := uuid.New()
	params := MarketplacePaymentParams{
		TenantID: tenantID,
		Amount:   decimal.RequireFromString("49.99"),
		Currency: "USD",
		Email:    "owner@lekkivet.ng",
		AddonID:  "adn_1",
	}

	t.Run("Success", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.adapter.createResp = &payment.CreatePaymentResult{
			PaymentID:   "pi_123",
			ClientToken: "pi_123_secret",
		}

		resp, err := f.service.CreateMarketplacePayment(context.Background(), params)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "stripe", resp.Provider)
		assert.Equal(t, "pi_123", resp.PaymentID)
		require.NotEmpty(t, resp.TransactionID)

		// Ledger row exists before the provider is called.
		assert.Equal(t, []string{"ledger_write", "provider_call"}, f.events)

		txID := uuid.MustParse(resp.TransactionID)
		tx := f.platform.transactions[txID]
		require.NotNil(t, tx)
		assert.Equal(t, database.TransactionTypeAddon, tx.Type)
		assert.Equal(t, "pi_123", tx.ProviderTransactionID.String)

		// The adapter sees the ledger id so webhooks can find the row.
		assert.Equal(t, resp.TransactionID, f.adapter.lastParams.Metadata["transaction_id"])
		assert.Equal(t, "sk_test_owner", f.adapter.lastCreds.SecretKey)
	})

	t.Run("NoVerifiedConfig", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.platform.ownerConfig = nil
		f.platform.ownerConfigErr = database.ErrNotFound

		resp, err := f.service.CreateMarketplacePayment(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "none", resp.Provider)
		assert.Equal(t, CodeNoVerifiedPlatformConfig, resp.ErrorCode)

		// Nothing was attempted, so nothing was recorded.
		assert.Empty(t, f.platform.transactions)
		assert.Zero(t, f.adapter.createCalls)
	})

	t.Run("ProviderFailureMarksRow", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.adapter.createErr = &payment.ProviderError{Provider: "stripe", Message: "Your card was declined."}

		resp, err := f.service.CreateMarketplacePayment(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, CodePaymentInitFailed, resp.ErrorCode)
		require.NotEmpty(t, resp.TransactionID)

		tx := f.platform.transactions[uuid.MustParse(resp.TransactionID)]
		require.NotNil(t, tx)
		assert.Equal(t, database.TransactionStatusFailed, tx.Status)
		assert.Equal(t, CodePaymentInitFailed, f.platform.failedCode)
		assert.Equal(t, "Your card was declined.", f.platform.failedMessage)
	})

	t.Run("LedgerWriteFailureSkipsCharge", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.platform.createErr = errors.New("db down")

		resp, err := f.service.CreateMarketplacePayment(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, CodeTransactionWriteFailed, resp.ErrorCode)
		assert.Zero(t, f.adapter.createCalls)
	})

	t.Run("RepeatedIdempotencyKey", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.adapter.createResp = &payment.CreatePaymentResult{PaymentID: "pi_once"}

		keyed := params
		keyed.IdempotencyKey = "order-42"

		first, err := f.service.CreateMarketplacePayment(context.Background(), keyed)
		require.NoError(t, err)
		second, err := f.service.CreateMarketplacePayment(context.Background(), keyed)
		require.NoError(t, err)

		assert.Equal(t, first.PaymentID, second.PaymentID)
		assert.Equal(t, first.TransactionID, second.TransactionID)
		assert.Equal(t, 1, f.adapter.createCalls)
		assert.Len(t, f.platform.transactions, 1)
	})

	t.Run("ConfigFailureIsNotCached", func(t *testing.T) {
		f := marketplaceFixture(t)
		f.platform.ownerConfig = nil
		f.platform.ownerConfigErr = database.ErrNotFound

		keyed := params
		keyed.IdempotencyKey = "order-43"

		resp, err := f.service.CreateMarketplacePayment(context.Background(), keyed)
		require.NoError(t, err)
		assert.Equal(t, CodeNoVerifiedPlatformConfig, resp.ErrorCode)

		// After the admin fixes the configuration a retry goes through.
		f.platform.ownerConfigErr = nil
		f.platform.ownerConfig = &database.OwnerPaymentConfig{
			ID:                 7,
			Environment:        "sandbox",
			ProviderCode:       "stripe",
			SecretKeyEncrypted: f.encrypt(t, "sk_test_owner"),
			IsActive:           true,
			IsVerified:         true,
		}
		f.adapter.createResp = &payment.CreatePaymentResult{PaymentID: "pi_retry"}

		resp, err = f.service.CreateMarketplacePayment(context.Background(), keyed)
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})
}

func TestVerifyPayment(t *testing.T) {
	f := marketplaceFixture(t)
	f.adapter.createResp = &payment.CreatePaymentResult{PaymentID: "pi_123"}

	resp, err := f.service.CreateMarketplacePayment(context.Background(), MarketplacePaymentParams{
		TenantID: uuid.New(),
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "USD",
	})
	require.NoError(t, err)
	txID := uuid.MustParse(resp.TransactionID)

	t.Run("PendingThenSucceeded", func(t *testing.T) {
		f.adapter.verifyResp = &payment.VerifyPaymentResult{
			Succeeded:      true,
			ProviderStatus: "succeeded",
			Amount:         decimal.RequireFromString("10.00"),
			Currency:       "USD",
		}

		verify, err := f.service.VerifyPayment(context.Background(), txID)
		require.NoError(t, err)
		assert.True(t, verify.Succeeded)
		assert.Equal(t, "succeeded", verify.Status)
		assert.Equal(t, database.TransactionStatusSucceeded, f.platform.transactions[txID].Status)
	})

	t.Run("AlreadySettledSkipsProvider", func(t *testing.T) {
		f.adapter.verifyErr = errors.New("provider must not be called")

		verify, err := f.service.VerifyPayment(context.Background(), txID)
		require.NoError(t, err)
		assert.True(t, verify.Succeeded)
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		_, err := f.service.VerifyPayment(context.Background(), uuid.New())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, CodeTransactionNotFound, cfgErr.Code)
	})
}

func TestConfirmMarketplaceTransaction(t *testing.T) {
	f := marketplaceFixture(t)
	f.adapter.createResp = &payment.CreatePaymentResult{PaymentID: "pi_123"}

	resp, err := f.service.CreateMarketplacePayment(context.Background(), MarketplacePaymentParams{
		TenantID: uuid.New(),
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "USD",
	})
	require.NoError(t, err)
	txID := uuid.MustParse(resp.TransactionID)

	require.NoError(t, f.service.ConfirmMarketplaceTransaction(context.Background(), txID, "pi_123"))
	assert.Equal(t, database.TransactionStatusSucceeded, f.platform.transactions[txID].Status)

	// Replayed webhook delivery is a no-op.
	require.NoError(t, f.service.ConfirmMarketplaceTransaction(context.Background(), txID, "pi_123"))
}

func TestWebhookCredentials(t *testing.T) {
	f := marketplaceFixture(t)

	t.Run("Stripe", func(t *testing.T) {
		creds, err := f.service.WebhookCredentials(context.Background(), payment.ProviderStripe)
		require.NoError(t, err)
		assert.Equal(t, "whsec_test", creds.WebhookSecret)
	})

	t.Run("Paystack", func(t *testing.T) {
		f.platform.ownerConfig.ProviderCode = "paystack"
		creds, err := f.service.WebhookCredentials(context.Background(), payment.ProviderPaystack)
		require.NoError(t, err)
		assert.Equal(t, "sk_test_owner", creds.SecretKey)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := f.service.WebhookCredentials(context.Background(), "flutterwave")
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}
