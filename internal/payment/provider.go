// Package payment defines the uniform contract every payment provider
// integration implements, plus the registry used to dispatch by provider
// code.
package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Credentials carries the decrypted keys for a single adapter call. Values
// are scoped to that call: adapters must not retain or log them.
type Credentials struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
}

type CreatePaymentParams struct {
	// Amount is in major units; each adapter converts to its own minor
	// unit using the currency rules.
	Amount      decimal.Decimal
	Currency    string
	Email       string
	Description string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

type CreatePaymentResult struct {
	// PaymentID is the provider-side reference used for verification and
	// refunds (Paystack transaction reference, Stripe payment intent id).
	PaymentID string
	// PaymentURL is a hosted redirect URL, when the provider issues one.
	PaymentURL string
	// ClientToken is a client-side confirmation token, when the provider
	// uses a token flow instead of a redirect.
	ClientToken string
}

type VerifyPaymentResult struct {
	Succeeded      bool
	ProviderStatus string
	// Amount is in major units.
	Amount   decimal.Decimal
	Currency string
}

type RefundResult struct {
	RefundID string
}

// ProviderError is an expected provider-side failure (HTTP error, declined
// request, non-success API status). Callers surface its message; it is never
// retried at this layer.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Adapter is the uniform provider contract. Expected provider-side failures
// come back as *ProviderError; adapters never panic for them and never
// retry.
type Adapter interface {
	Code() string

	CreatePayment(ctx context.Context, creds Credentials, params CreatePaymentParams) (*CreatePaymentResult, error)
	VerifyPayment(ctx context.Context, creds Credentials, paymentID string) (*VerifyPaymentResult, error)
	// Refund issues a full refund when amount is nil, partial otherwise.
	Refund(ctx context.Context, creds Credentials, paymentID string, amount *decimal.Decimal) (*RefundResult, error)
	// ValidateWebhookSignature reports whether the raw payload matches the
	// signature header. Malformed input is invalid, never an error.
	ValidateWebhookSignature(payload []byte, signatureHeader string, creds Credentials) bool
}

// Registry maps provider codes to adapters. Adapters register at startup;
// lookups are read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Code()] = adapter
}

func (r *Registry) Adapter(code string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[code]
	return adapter, ok
}

// Codes lists registered provider codes, sorted for stable output.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
