package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All services MUST use these constants instead of hardcoded strings.
const (
	// Validation
	ErrCodeValidationInterval     ErrorCode = "validation_interval_out_of_range"
	ErrCodeValidationGracePeriod  ErrorCode = "validation_grace_exceeds_interval"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationThreshold    ErrorCode = "validation_threshold_out_of_range"

	// State machine violations. The requested transition is not legal
	// from the entity's current state; the caller is expected to handle it.
	ErrCodeInvalidState ErrorCode = "invalid_state_transition"

	// Not Found (entity vanished between enqueue and processing)
	ErrCodeNotFoundSwitch  ErrorCode = "not_found_switch"
	ErrCodeNotFoundMessage ErrorCode = "not_found_message"
	ErrCodeNotFoundOwner   ErrorCode = "not_found_owner"

	// Conflict
	ErrCodeConflictVersion     ErrorCode = "conflict_version_mismatch"
	ErrCodeConflictIdempotency ErrorCode = "conflict_idempotency_key"

	// Delivery. Transient failures are eligible for another attempt;
	// permanent ones are not, regardless of the attempt count.
	ErrCodeDeliveryTransient ErrorCode = "delivery_transient_failure"
	ErrCodeDeliveryPermanent ErrorCode = "delivery_permanent_failure"
	ErrCodeDeliveryExhausted ErrorCode = "delivery_attempts_exhausted"

	// Internal/Upstream
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalCache      ErrorCode = "internal_cache_error"
	ErrCodeInternalStorage    ErrorCode = "internal_storage_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamSMTP       ErrorCode = "upstream_smtp_unavailable"

	// Config
	ErrCodeConfigInvalid ErrorCode = "config_invalid"
)

// AppError is the standard application error type used throughout the platform.
// All domain and worker errors should be expressed as AppError to enable
// consistent error classification, structured logging, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsVersionConflict reports whether err is an optimistic-lock mismatch.
// Conflicts on switch writes are benign: another worker already performed
// the transition.
func IsVersionConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflictVersion
}

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeNotFoundSwitch || code == ErrCodeNotFoundMessage ||
		code == ErrCodeNotFoundOwner
}

// IsInvalidState reports whether err is a rejected state transition.
func IsInvalidState(err error) bool {
	return CodeOf(err) == ErrCodeInvalidState
}

// IsPermanentDelivery reports whether err rules out any further delivery
// attempt for the message, independent of the attempt counter.
func IsPermanentDelivery(err error) bool {
	return CodeOf(err) == ErrCodeDeliveryPermanent
}
