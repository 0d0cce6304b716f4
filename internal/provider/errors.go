package provider

import (
	"errors"
	"fmt"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED" // Invalid or expired credentials

	// Rate limiting and quota
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"   // Too many requests
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED" // Usage quota exceeded

	// Service availability
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // Service temporarily unavailable
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"     // Requested model not found

	// Network and request
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"   // Network connectivity issues
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST" // Malformed request
	ErrCodeTimeout        ErrorCode = "TIMEOUT"         // Request timeout

	// Unknown
	ErrCodeUnknown ErrorCode = "UNKNOWN" // Unclassified error
)

// ProviderError is a structured error for provider operations.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds until retry is allowed
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
	}
}

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CodeOf returns the error code of a provider error, or ErrCodeUnknown for
// other errors.
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnknown
}
