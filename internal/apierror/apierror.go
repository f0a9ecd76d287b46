package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrInvalidPermissionSet  ErrorCode = "INVALID_PERMISSION_SET"
	ErrNotConfigured         ErrorCode = "NOT_CONFIGURED"
	ErrProviderUnavailable   ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrProviderRejected      ErrorCode = "PROVIDER_REJECTED"
	ErrAccountNotFound       ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrNoAccountsFound       ErrorCode = "NO_ACCOUNTS_FOUND"
	ErrCodeAlreadyUsed       ErrorCode = "CODE_ALREADY_USED"
	ErrInvalidGrant          ErrorCode = "INVALID_GRANT"
	ErrInvalidPaymentRequest ErrorCode = "INVALID_PAYMENT_REQUEST"
	ErrNotFound              ErrorCode = "NOT_FOUND"
	ErrInternalServer        ErrorCode = "INTERNAL_SERVER_ERROR"
)

// APIError is the only error shape that crosses the service boundary.
// Message and Details must never carry credentials or tokens.
type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the code of the first APIError in err's chain,
// or ErrInternalServer when there is none.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether a caller may retry the same call unchanged.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrProviderUnavailable, ErrRateLimited:
		return true
	default:
		return false
	}
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case ErrInvalidRequest, ErrInvalidPermissionSet, ErrInvalidPaymentRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyUsed:
		return http.StatusConflict
	case ErrNoAccountsFound, ErrAccountNotFound, ErrInvalidGrant:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrProviderRejected:
		return http.StatusBadGateway
	case ErrNotConfigured, ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
