package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/logger"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ApiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   ApiError `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, apiErr ApiError) {
	if code >= 500 {
		logger.L().Error("responding with 5XX error",
			zap.String("code", apiErr.Code),
			zap.String("message", apiErr.Message))
	}

	respondWithJSON(w, code, ErrorResponse{
		Success: false,
		Error:   apiErr,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(payload)
	if err != nil {
		logger.L().Error("error marshalling JSON", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{
			Success: false,
			Error: ApiError{
				Code:    "INTERNAL_ERROR",
				Message: "Failed to generate response",
			},
		})
		return
	}

	w.WriteHeader(code)
	w.Write(data)
}
