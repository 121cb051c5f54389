package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vetstack/practice-payments-api/internal/currency"
)

const ProviderStripe = "stripe"

// StripeAdapter drives Stripe through the official SDK. Keys are per-tenant,
// so every call builds its own client.API instead of setting the package
// global key.
type StripeAdapter struct{}

func NewStripeAdapter() *StripeAdapter {
	return &StripeAdapter{}
}

func (s *StripeAdapter) Code() string {
	return ProviderStripe
}

func (s *StripeAdapter) apiClient(secretKey string) *client.API {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc
}

func (s *StripeAdapter) CreatePayment(ctx context.Context, creds Credentials, params CreatePaymentParams) (*CreatePaymentResult, error) {
	amountMinor, err := currency.ToMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderStripe, Message: err.Error()}
	}

	intentParams := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(amountMinor),
		Currency:     stripe.String(strings.ToLower(params.Currency)),
		ReceiptEmail: stripe.String(params.Email),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	intentParams.Context = ctx

	if params.Description != "" {
		intentParams.Description = stripe.String(params.Description)
	}
	for key, value := range params.Metadata {
		intentParams.AddMetadata(key, value)
	}
	if params.Reference != "" {
		intentParams.AddMetadata("reference", params.Reference)
	}

	intent, err := s.apiClient(creds.SecretKey).PaymentIntents.New(intentParams)
	if err != nil {
		return nil, asProviderError(err)
	}

	return &CreatePaymentResult{
		PaymentID:   intent.ID,
		ClientToken: intent.ClientSecret,
	}, nil
}

func (s *StripeAdapter) VerifyPayment(ctx context.Context, creds Credentials, paymentID string) (*VerifyPaymentResult, error) {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx

	intent, err := s.apiClient(creds.SecretKey).PaymentIntents.Get(paymentID, getParams)
	if err != nil {
		return nil, asProviderError(err)
	}

	code := strings.ToUpper(string(intent.Currency))

	return &VerifyPaymentResult{
		Succeeded:      intent.Status == stripe.PaymentIntentStatusSucceeded,
		ProviderStatus: string(intent.Status),
		Amount:         currency.FromMinorUnits(intent.Amount, code),
		Currency:       code,
	}, nil
}

func (s *StripeAdapter) Refund(ctx context.Context, creds Credentials, paymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
	}
	refundParams.Context = ctx

	if amount != nil {
		verified, err := s.VerifyPayment(ctx, creds, paymentID)
		if err != nil {
			return nil, err
		}

		amountMinor, err := currency.ToMinorUnits(*amount, verified.Currency)
		if err != nil {
			return nil, &ProviderError{Provider: ProviderStripe, Message: err.Error()}
		}
		refundParams.Amount = stripe.Int64(amountMinor)
	}

	refund, err := s.apiClient(creds.SecretKey).Refunds.New(refundParams)
	if err != nil {
		return nil, asProviderError(err)
	}

	return &RefundResult{RefundID: refund.ID}, nil
}

// ValidateWebhookSignature delegates to the SDK's signed-event constructor.
// Stripe signs webhooks with a dedicated webhook secret, distinct from the
// API secret key.
func (s *StripeAdapter) ValidateWebhookSignature(payload []byte, signatureHeader string, creds Credentials) bool {
	if creds.WebhookSecret == "" || signatureHeader == "" {
		return false
	}

	_, err := webhook.ConstructEvent(payload, signatureHeader, creds.WebhookSecret)
	return err == nil
}

func asProviderError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		msg := stripeErr.Msg
		if msg == "" {
			msg = string(stripeErr.Code)
		}
		return &ProviderError{Provider: ProviderStripe, Message: msg}
	}
	return &ProviderError{Provider: ProviderStripe, Message: err.Error()}
}
