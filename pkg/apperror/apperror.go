// Package apperror carries the error taxonomy shared by every service:
// each error knows its machine code and the HTTP status it maps to.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeStockConflict       = "STOCK_CONFLICT"
	CodeAlreadySent         = "ALREADY_SENT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func NotFound(resource, id string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).WithDetail("id", id)
}

// InvalidTransition reports a state-machine guard violation; current is the
// status the resource is in.
func InvalidTransition(message, current string) *AppError {
	return New(CodeInvalidTransition, message, http.StatusBadRequest).WithDetail("current_status", current)
}

func StockConflict(message string) *AppError {
	return New(CodeStockConflict, message, http.StatusConflict)
}

func AlreadySent(message string) *AppError {
	return New(CodeAlreadySent, message, http.StatusConflict)
}

func UpstreamUnavailable(service string) *AppError {
	return New(CodeUpstreamUnavailable, fmt.Sprintf("%s is unavailable", service), http.StatusServiceUnavailable)
}

// Internal hides the cause from callers; the cause stays reachable via Unwrap for logging.
func Internal(err error) *AppError {
	return New(CodeInternal, "an internal error occurred", http.StatusInternalServerError).Wrap(err)
}

func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From returns err as an AppError, turning unknown errors into Internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}

func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
