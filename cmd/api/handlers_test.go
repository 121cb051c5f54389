package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vetstack/practice-payments-api/internal/billing"
)

func TestCreatePaymentHandlerValidation(t *testing.T) {
	cfg := &apiConfig{}

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/payments", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()

		cfg.createPaymentHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
	})

	t.Run("InvalidPracticeID", func(t *testing.T) {
		body := `{"practice_id": "not-a-uuid", "amount": "10.00"}`
		req := httptest.NewRequest("POST", "/api/v1/payments", strings.NewReader(body))
		rec := httptest.NewRecorder()

		cfg.createPaymentHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "valid UUID")
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		body := `{"practice_id": "7e57ed00-0000-4000-8000-000000000001", "amount": "0"}`
		req := httptest.NewRequest("POST", "/api/v1/payments", strings.NewReader(body))
		rec := httptest.NewRecorder()

		cfg.createPaymentHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "greater than zero")
	})
}

func TestVerifyPaymentHandlerValidation(t *testing.T) {
	cfg := &apiConfig{}

	req := httptest.NewRequest("GET", "/api/v1/payments/nope/verify", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	cfg.verifyPaymentHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForPaymentResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *billing.PaymentResponse
		want int
	}{
		{"Success", &billing.PaymentResponse{Success: true}, http.StatusOK},
		{"PracticeNotFound", &billing.PaymentResponse{ErrorCode: billing.CodePracticeNotFound}, http.StatusNotFound},
		{"NoCurrency", &billing.PaymentResponse{ErrorCode: billing.CodeNoCurrencyConfigured}, http.StatusUnprocessableEntity},
		{"ProviderDeclined", &billing.PaymentResponse{ErrorCode: billing.CodePaymentInitFailed}, http.StatusUnprocessableEntity},
		{"LedgerWriteFailed", &billing.PaymentResponse{ErrorCode: billing.CodeTransactionWriteFailed}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForPaymentResponse(tt.resp))
		})
	}
}

func TestCorsMiddleware(t *testing.T) {
	handler := middlewareCors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/v1/payments", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("PassThrough", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
	})
}
