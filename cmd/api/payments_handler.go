package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetstack/practice-payments-api/internal/billing"
)

type createPaymentRequest struct {
	PracticeID  string            `json:"practice_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Email       string            `json:"email"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (cfg *apiConfig) createPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	practiceID, err := uuid.Parse(req.PracticeID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "practice_id must be a valid UUID",
		})
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "amount must be greater than zero",
		})
		return
	}

	resp, err := cfg.billing.CreatePayment(r.Context(), billing.CreatePaymentParams{
		PracticeID:  practiceID,
		Amount:      req.Amount,
		Email:       req.Email,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to process payment",
		})
		return
	}

	respondWithJSON(w, statusForPaymentResponse(resp), resp)
}

type marketplacePaymentRequest struct {
	TenantID       string            `json:"tenant_id"`
	PracticeID     string            `json:"practice_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Email          string            `json:"email"`
	Description    string            `json:"description"`
	AddonID        string            `json:"addon_id"`
	SubscriptionID string            `json:"subscription_id"`
	Metadata       map[string]string `json:"metadata"`
}

func (cfg *apiConfig) createMarketplacePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req marketplacePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "tenant_id must be a valid UUID",
		})
		return
	}
	if req.Currency == "" {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "currency is required",
		})
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "amount must be greater than zero",
		})
		return
	}

	params := billing.MarketplacePaymentParams{
		TenantID:       tenantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Email:          req.Email,
		Description:    req.Description,
		AddonID:        req.AddonID,
		SubscriptionID: req.SubscriptionID,
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.PracticeID != "" {
		practiceID, err := uuid.Parse(req.PracticeID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "INVALID_REQUEST",
				Message: "practice_id must be a valid UUID",
			})
			return
		}
		params.PracticeID = practiceID
	}

	resp, err := cfg.billing.CreateMarketplacePayment(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to process payment",
		})
		return
	}

	respondWithJSON(w, statusForPaymentResponse(resp), resp)
}

func (cfg *apiConfig) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "transaction id must be a valid UUID",
		})
		return
	}

	resp, err := cfg.billing.VerifyPayment(r.Context(), transactionID)
	if err != nil {
		var cfgErr *billing.ConfigError
		if errors.As(err, &cfgErr) {
			status := http.StatusUnprocessableEntity
			if cfgErr.Code == billing.CodeTransactionNotFound {
				status = http.StatusNotFound
			}
			respondWithError(w, status, ApiError{
				Code:    cfgErr.Code,
				Message: cfgErr.Message,
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to verify payment",
		})
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// statusForPaymentResponse keeps the PaymentResponse body as the contract
// while still signalling configuration problems with a 4xx status.
func statusForPaymentResponse(resp *billing.PaymentResponse) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrorCode {
	case billing.CodePracticeNotFound:
		return http.StatusNotFound
	case billing.CodeTransactionWriteFailed, billing.CodeCredentialDecryptionError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
