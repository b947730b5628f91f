package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Billing
	ErrCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrCodeNothingToRefund     ErrorCode = "NOTHING_TO_REFUND"

	// Rate Limiting
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Providers
	ErrCodeUnknownService  ErrorCode = "UNKNOWN_SERVICE"
	ErrCodeProviderError   ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"

	// Integrity
	ErrCodeLedgerInconsistency ErrorCode = "LEDGER_INCONSISTENCY"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

// InsufficientCredits is returned when a consume would take a balance below
// zero. Nothing was mutated; the details tell the caller how short they are.
func InsufficientCredits(kind string, needed, balance int64) *AppError {
	return New(ErrCodeInsufficientCredits, "Insufficient credits").WithDetails(map[string]any{
		"kind":    kind,
		"needed":  needed,
		"balance": balance,
	})
}

func NothingToRefund(correlationID string) *AppError {
	return New(ErrCodeNothingToRefund,
		fmt.Sprintf("No consumption to refund for correlation id %s", correlationID))
}

func RateLimited(retryAfterSeconds int64) *AppError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").WithDetails(map[string]any{
		"retryAfterSeconds": retryAfterSeconds,
	})
}

// RetryAfterSeconds returns the retry hint carried by a RateLimited error.
// Callers use this instead of digging through Details themselves.
func RetryAfterSeconds(err error) (int64, bool) {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Code != ErrCodeRateLimited {
		return 0, false
	}
	details, ok := appErr.Details.(map[string]any)
	if !ok {
		return 0, false
	}
	seconds, ok := details["retryAfterSeconds"].(int64)
	return seconds, ok
}

func UnknownService(service string) *AppError {
	return New(ErrCodeUnknownService, fmt.Sprintf("Unknown service: %s", service))
}

func ProviderError(service string, cause error) *AppError {
	return Wrap(ErrCodeProviderError, fmt.Sprintf("Provider call failed: %s", service), cause)
}

func ProviderTimeout(service string) *AppError {
	return New(ErrCodeProviderTimeout, fmt.Sprintf("Provider call timed out: %s", service))
}

// LedgerInconsistency is a fatal integrity fault: the balance projection
// disagrees with the entry sum. It must never be silently corrected.
func LedgerInconsistency(accountID, kind string, projected, entrySum int64) *AppError {
	return New(ErrCodeLedgerInconsistency, "Ledger projection disagrees with entry sum").WithDetails(map[string]any{
		"accountId": accountID,
		"kind":      kind,
		"projected": projected,
		"entrySum":  entrySum,
	})
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
