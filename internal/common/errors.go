package common

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// FromDomain maps the checkout error taxonomy onto API error codes. Unknown errors
// become INTERNAL.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr):
		e := NewAppError("INSUFFICIENT_STOCK", stockErr.Error(), http.StatusConflict, err)
		e.Details = map[string]any{
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}
		return e
	case errors.Is(err, domain.ErrInsufficientStock):
		return NewAppError("INSUFFICIENT_STOCK", "insufficient stock", http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidInput):
		return NewAppError("INVALID_INPUT", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrProductNotFound):
		return NewAppError("NOT_FOUND", "product not found", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrEmptyCart):
		return NewAppError("EMPTY_CART", "cart is empty", http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrInsufficientPayment):
		return NewAppError("INSUFFICIENT_PAYMENT", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrSequenceGeneration):
		return NewAppError("SEQUENCE_UNAVAILABLE", "unable to allocate a sale number", http.StatusServiceUnavailable, err)
	case errors.Is(err, domain.ErrPersistence):
		return NewAppError("PERSISTENCE_FAILURE", "sale could not be saved; nothing was recorded", http.StatusInternalServerError, err)
	}
	return NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
}

// WriteError renders err using FromDomain.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	appErr := FromDomain(err)
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	code := appErr.Code
	if code == "" {
		code = "BAD_REQUEST"
	}
	JSONError(w, status, code, appErr.Message, appErr.Details)
}
