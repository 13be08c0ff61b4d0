package errors

import (
	stderrors "errors"
	"fmt"
)

// NescordError is the structured error type for the sync and search subsystem.
// It provides rich context for error handling, logging, and user presentation.
type NescordError struct {
	// Code is the unique error code (e.g., "ERR_301_PROVIDER_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *NescordError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NescordError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with NescordError.
func (e *NescordError) Is(target error) bool {
	if t, ok := target.(*NescordError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *NescordError) WithDetail(key, value string) *NescordError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *NescordError) WithSuggestion(suggestion string) *NescordError {
	e.Suggestion = suggestion
	return e
}

// New creates a new NescordError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NescordError {
	return &NescordError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a NescordError from an existing error.
// The error's message becomes the NescordError message.
func Wrap(code string, err error) *NescordError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *NescordError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a relational-store or index-file error.
func StorageError(message string, cause error) *NescordError {
	return New(ErrCodeStoreIO, message, cause)
}

// ProviderUnavailable creates an embedding-provider-down error.
// Provider errors are retryable.
func ProviderUnavailable(message string, cause error) *NescordError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// RateLimited creates a provider rate-limit error.
// Rate-limit errors are retryable with backoff.
func RateLimited(message string, cause error) *NescordError {
	return New(ErrCodeRateLimited, message, cause)
}

// Timeout creates a provider timeout error.
// A timed-out operation counts as a failure, never a success.
func Timeout(message string, cause error) *NescordError {
	return New(ErrCodeProviderTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *NescordError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConsistencyViolation creates a dual-store consistency error.
// These are not retryable; they need verify/repair.
func ConsistencyViolation(message string, cause error) *NescordError {
	return New(ErrCodeConsistencyViolation, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *NescordError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable. It looks through wrapped
// chains, so errors that passed through a retry loop still classify.
func IsRetryable(err error) bool {
	if ne := asNescord(err); ne != nil {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if ne := asNescord(err); ne != nil {
		return ne.Severity == SeverityFatal
	}
	return false
}

// IsUnavailable checks if an error indicates the embedding provider is down.
func IsUnavailable(err error) bool {
	return GetCode(err) == ErrCodeProviderUnavailable
}

// IsRateLimited checks if an error is a provider rate-limit rejection.
func IsRateLimited(err error) bool {
	return GetCode(err) == ErrCodeRateLimited
}

// IsTimeout checks if an error is a provider timeout.
func IsTimeout(err error) bool {
	return GetCode(err) == ErrCodeProviderTimeout
}

// IsValidation checks if an error is an input validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// GetCode extracts the error code from a NescordError anywhere in the
// chain. Returns empty string if none is found.
func GetCode(err error) string {
	if ne := asNescord(err); ne != nil {
		return ne.Code
	}
	return ""
}

// GetCategory extracts the category from a NescordError anywhere in the
// chain. Returns empty string if none is found.
func GetCategory(err error) Category {
	if ne := asNescord(err); ne != nil {
		return ne.Category
	}
	return ""
}

// asNescord finds the first NescordError in the chain.
func asNescord(err error) *NescordError {
	var ne *NescordError
	if stderrors.As(err, &ne) {
		return ne
	}
	return nil
}
