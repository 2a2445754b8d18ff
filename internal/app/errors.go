package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"notegate/api/internal/auth"
	"notegate/api/internal/authpw"
	"notegate/api/internal/fault"
	"notegate/api/internal/session"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

// mapError translates an error into a response. The outermost typed fault
// decides the status; causes are never shown to the caller.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "TIMEOUT", "The operation timed out, please retry", nil
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	}

	var typed *fault.Error
	if errors.As(err, &typed) {
		msg := typed.Msg
		switch typed.Kind {
		case fault.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", firstNonBlank(msg, "Not found"), nil
		case fault.KindConflict:
			return http.StatusConflict, "CONFLICT", firstNonBlank(msg, "Conflict"), nil
		case fault.KindForbidden:
			return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
		case fault.KindInvalidToken:
			return http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil
		case fault.KindInvalidInput:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", firstNonBlank(msg, "Invalid input"), nil
		case fault.KindIntegrity:
			return http.StatusInternalServerError, "INTEGRITY_FAULT", "Server error", nil
		case fault.KindTransactionAborted:
			return http.StatusInternalServerError, "TRANSACTION_ABORTED", "The change was not applied", nil
		}
	}

	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
