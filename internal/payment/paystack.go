package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vetstack/practice-payments-api/internal/currency"
)

const ProviderPaystack = "paystack"

type PaystackAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewPaystackAdapter(baseURL string) *PaystackAdapter {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &PaystackAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *PaystackAdapter) Code() string {
	return ProviderPaystack
}

type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
}

type paystackInitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (p *PaystackAdapter) CreatePayment(ctx context.Context, creds Credentials, params CreatePaymentParams) (*CreatePaymentResult, error) {
	amountMinor, err := currency.ToMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderPaystack, Message: err.Error()}
	}

	reqBody := paystackInitializeRequest{
		Email:       params.Email,
		Amount:      amountMinor,
		Currency:    params.Currency,
		Reference:   params.Reference,
		CallbackURL: params.CallbackURL,
		Metadata:    params.Metadata,
	}

	var result paystackInitializeResponse
	if err := p.post(ctx, creds.SecretKey, "/transaction/initialize", reqBody, &result); err != nil {
		return nil, err
	}

	if !result.Status {
		return nil, &ProviderError{Provider: ProviderPaystack, Message: result.Message}
	}

	return &CreatePaymentResult{
		PaymentID:   result.Data.Reference,
		PaymentURL:  result.Data.AuthorizationURL,
		ClientToken: result.Data.AccessCode,
	}, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		PaidAt   string `json:"paid_at"`
		Channel  string `json:"channel"`
	} `json:"data"`
}

func (p *PaystackAdapter) VerifyPayment(ctx context.Context, creds Credentials, paymentID string) (*VerifyPaymentResult, error) {
	var result paystackVerifyResponse
	if err := p.get(ctx, creds.SecretKey, "/transaction/verify/"+paymentID, &result); err != nil {
		return nil, err
	}

	if !result.Status {
		return nil, &ProviderError{Provider: ProviderPaystack, Message: result.Message}
	}

	return &VerifyPaymentResult{
		Succeeded:      result.Data.Status == "success",
		ProviderStatus: result.Data.Status,
		Amount:         currency.FromMinorUnits(result.Data.Amount, result.Data.Currency),
		Currency:       result.Data.Currency,
	}, nil
}

type paystackRefundRequest struct {
	Transaction string `json:"transaction"`
	Amount      int64  `json:"amount,omitempty"`
}

type paystackRefundResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (p *PaystackAdapter) Refund(ctx context.Context, creds Credentials, paymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	reqBody := paystackRefundRequest{Transaction: paymentID}

	if amount != nil {
		verified, err := p.VerifyPayment(ctx, creds, paymentID)
		if err != nil {
			return nil, err
		}

		amountMinor, err := currency.ToMinorUnits(*amount, verified.Currency)
		if err != nil {
			return nil, &ProviderError{Provider: ProviderPaystack, Message: err.Error()}
		}
		reqBody.Amount = amountMinor
	}

	var result paystackRefundResponse
	if err := p.post(ctx, creds.SecretKey, "/refund", reqBody, &result); err != nil {
		return nil, err
	}

	if !result.Status {
		return nil, &ProviderError{Provider: ProviderPaystack, Message: result.Message}
	}

	return &RefundResult{RefundID: strconv.FormatInt(result.Data.ID, 10)}, nil
}

// ValidateWebhookSignature checks the x-paystack-signature header: an
// HMAC-SHA-512 of the raw payload keyed with the secret key (Paystack signs
// with the API secret, not a separate webhook secret).
func (p *PaystackAdapter) ValidateWebhookSignature(payload []byte, signatureHeader string, creds Credentials) bool {
	key := creds.WebhookSecret
	if key == "" {
		key = creds.SecretKey
	}
	if key == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}

func (p *PaystackAdapter) post(ctx context.Context, secretKey, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, secretKey, out)
}

func (p *PaystackAdapter) get(ctx context.Context, secretKey, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	return p.do(req, secretKey, out)
}

func (p *PaystackAdapter) do(req *http.Request, secretKey string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+secretKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{Provider: ProviderPaystack, Message: fmt.Sprintf("failed to parse response (http %d)", resp.StatusCode)}
	}

	return nil
}
