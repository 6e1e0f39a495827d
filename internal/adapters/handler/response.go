package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Success: status >= 200 && status < 300,
	}

	if response.Success {
		response.Data = data
	} else {
		if apiErr, ok := data.(*APIError); ok {
			response.Error = apiErr
		}
	}

	_ = json.NewEncoder(w).Encode(response)
}

func respondWithError(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	code := "INTERNAL_ERROR"
	message := "An unexpected error occurred"
	status := http.StatusInternalServerError

	if errors.As(err, &domainErr) {
		code = domainErr.Code
		message = domainErr.Message
		status = statusFor(domainErr.Code)

		var rejection *domain.GatewayRejection
		if errors.As(err, &rejection) && rejection.Description != "" {
			message = rejection.Description
		}
	}

	respondWithJSON(w, status, &APIError{
		Code:    code,
		Message: message,
	})
}

func statusFor(code string) int {
	switch code {
	case domain.ErrCodeValidation, domain.ErrCodeParse:
		return http.StatusBadRequest
	case domain.ErrCodePaymentNotFound, domain.ErrCodeOrderNotFound, domain.ErrCodeMethodNotFound:
		return http.StatusNotFound
	case domain.ErrCodeInvalidTransition, domain.ErrCodeDuplicateRequest:
		return http.StatusConflict
	case domain.ErrCodeRequestProcessing:
		return http.StatusAccepted
	case domain.ErrCodeGatewayRejection:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeTransport, domain.ErrCodeAuthentication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validationError(message string) *domain.DomainError {
	return &domain.DomainError{
		Code:    domain.ErrCodeValidation,
		Message: message,
	}
}
