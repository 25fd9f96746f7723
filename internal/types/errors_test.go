package types

import (
	"errors"
	"fmt"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces the format: "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInterval,
		Message: "check-in interval must be between 1 and 365 days",
	}

	expected := "validation_interval_out_of_range: check-in interval must be between 1 and 365 days"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := &AppError{
		Code:    ErrCodeInternalDB,
		Message: "failed to query switches",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorUnwrapNil verifies Unwrap returns nil when no underlying error exists.
func TestAppErrorUnwrapNil(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundSwitch,
		Message: "switch not found",
	}

	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from an error chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeConflictVersion,
		Message: "switch was modified concurrently",
	}
	wrappedErr := fmt.Errorf("scanner failed: %w", appErr)

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeConflictVersion {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeConflictVersion)
	}
}

// TestAppErrorErrorsIs verifies that errors.Is works through the AppError chain.
func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := &AppError{
		Code:    ErrCodeInternalUnexpected,
		Message: "unexpected failure",
		Err:     sentinel,
	}

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the sentinel error through Unwrap")
	}
}

// TestNewAppError verifies the basic constructor.
func TestNewAppError(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeUpstreamSMTP, "smtp relay unavailable", underlying)

	if appErr.Code != ErrCodeUpstreamSMTP {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeUpstreamSMTP)
	}
	if appErr.Message != "smtp relay unavailable" {
		t.Errorf("Message = %q, want %q", appErr.Message, "smtp relay unavailable")
	}
	if appErr.Err != underlying {
		t.Errorf("Err = %v, want %v", appErr.Err, underlying)
	}
	if appErr.Details != nil {
		t.Errorf("Details should be nil, got %v", appErr.Details)
	}
}

// TestNewAppErrorWithNilErr verifies constructor works with nil underlying error.
func TestNewAppErrorWithNilErr(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundMessage, "message not found", nil)

	if appErr.Err != nil {
		t.Errorf("Err should be nil, got %v", appErr.Err)
	}
	if appErr.Error() != "not_found_message: message not found" {
		t.Errorf("Error() = %q, unexpected format", appErr.Error())
	}
}

// TestNewAppErrorWithDetails verifies the detailed constructor.
func TestNewAppErrorWithDetails(t *testing.T) {
	details := map[string]any{
		"field": "grace_period_days",
		"value": 400,
	}
	appErr := NewAppErrorWithDetails(
		ErrCodeValidationGracePeriod,
		"grace period out of range",
		nil,
		details,
	)

	if appErr.Code != ErrCodeValidationGracePeriod {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationGracePeriod)
	}
	if appErr.Details == nil {
		t.Fatal("Details should not be nil")
	}
	if appErr.Details["field"] != "grace_period_days" {
		t.Errorf("Details[\"field\"] = %v, want \"grace_period_days\"", appErr.Details["field"])
	}
	if appErr.Details["value"] != 400 {
		t.Errorf("Details[\"value\"] = %v, want 400", appErr.Details["value"])
	}
}

// TestAppErrorWithDetails verifies the WithDetails method creates a copy with merged details.
func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(
		ErrCodeValidationMissingField,
		"field is required",
		nil,
		map[string]any{"field": "name"},
	)

	enhanced := original.WithDetails(map[string]any{
		"suggestion": "provide a non-empty name",
	})

	// Original should be unchanged.
	if _, ok := original.Details["suggestion"]; ok {
		t.Error("WithDetails should not mutate the original error")
	}

	// Enhanced should have both details.
	if enhanced.Details["field"] != "name" {
		t.Errorf("enhanced should retain original detail: field = %v", enhanced.Details["field"])
	}
	if enhanced.Details["suggestion"] != "provide a non-empty name" {
		t.Errorf("enhanced should have new detail: suggestion = %v", enhanced.Details["suggestion"])
	}

	// Code and Message should carry over.
	if enhanced.Code != original.Code {
		t.Errorf("Code should carry over: got %q, want %q", enhanced.Code, original.Code)
	}
	if enhanced.Message != original.Message {
		t.Errorf("Message should carry over: got %q, want %q", enhanced.Message, original.Message)
	}
}

// TestAppErrorWithDetailsOverwrite verifies that WithDetails overwrites existing keys.
func TestAppErrorWithDetailsOverwrite(t *testing.T) {
	original := NewAppErrorWithDetails(
		ErrCodeValidationInterval,
		"invalid",
		nil,
		map[string]any{"field": "interval", "value": 400},
	)

	enhanced := original.WithDetails(map[string]any{"value": 30})

	if enhanced.Details["value"] != 30 {
		t.Errorf("WithDetails should overwrite existing key: value = %v, want 30", enhanced.Details["value"])
	}
	if enhanced.Details["field"] != "interval" {
		t.Errorf("WithDetails should retain non-overwritten keys: field = %v", enhanced.Details["field"])
	}
}

// TestAppErrorWithDetailsNilOriginal verifies WithDetails works when original has no details.
func TestAppErrorWithDetailsNilOriginal(t *testing.T) {
	original := NewAppError(ErrCodeNotFoundSwitch, "not found", nil)
	enhanced := original.WithDetails(map[string]any{"id": "sw_123"})

	if enhanced.Details["id"] != "sw_123" {
		t.Errorf("WithDetails on nil original should work: id = %v", enhanced.Details["id"])
	}
}

// TestCodeOf verifies code extraction through wrapped chains.
func TestCodeOf(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictVersion, "version mismatch", nil)
	wrapped := fmt.Errorf("update failed: %w", appErr)

	if got := CodeOf(wrapped); got != ErrCodeConflictVersion {
		t.Errorf("CodeOf(wrapped) = %q, want %q", got, ErrCodeConflictVersion)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternalUnexpected {
		t.Errorf("CodeOf(plain error) = %q, want %q", got, ErrCodeInternalUnexpected)
	}
	if got := CodeOf(nil); got != ErrCodeInternalUnexpected {
		t.Errorf("CodeOf(nil) = %q, want %q", got, ErrCodeInternalUnexpected)
	}
}

// TestClassificationHelpers verifies the predicate helpers used at worker
// boundaries to branch on expected business conditions.
func TestClassificationHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		conflict  bool
		notFound  bool
		invalid   bool
		permanent bool
	}{
		{
			name:     "version conflict",
			err:      NewAppError(ErrCodeConflictVersion, "stale version", nil),
			conflict: true,
		},
		{
			name:     "switch not found",
			err:      NewAppError(ErrCodeNotFoundSwitch, "gone", nil),
			notFound: true,
		},
		{
			name:     "message not found wrapped",
			err:      fmt.Errorf("load: %w", NewAppError(ErrCodeNotFoundMessage, "gone", nil)),
			notFound: true,
		},
		{
			name:    "invalid state",
			err:     NewAppError(ErrCodeInvalidState, "already triggered", nil),
			invalid: true,
		},
		{
			name:      "permanent delivery",
			err:       NewAppError(ErrCodeDeliveryPermanent, "mailbox does not exist", nil),
			permanent: true,
		},
		{
			name: "transient delivery matches nothing",
			err:  NewAppError(ErrCodeDeliveryTransient, "timeout", nil),
		},
		{
			name: "plain error matches nothing",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.conflict {
				t.Errorf("IsVersionConflict = %v, want %v", got, tt.conflict)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsInvalidState(tt.err); got != tt.invalid {
				t.Errorf("IsInvalidState = %v, want %v", got, tt.invalid)
			}
			if got := IsPermanentDelivery(tt.err); got != tt.permanent {
				t.Errorf("IsPermanentDelivery = %v, want %v", got, tt.permanent)
			}
		})
	}
}

// TestAppErrorFmtStringer verifies that AppError produces readable output in fmt functions.
func TestAppErrorFmtStringer(t *testing.T) {
	appErr := NewAppError(ErrCodeDeliveryExhausted, "all delivery attempts exhausted", nil)
	result := fmt.Sprintf("got error: %v", appErr)
	expected := "got error: delivery_attempts_exhausted: all delivery attempts exhausted"
	if result != expected {
		t.Errorf("fmt.Sprintf(\"%%v\") = %q, want %q", result, expected)
	}
}
