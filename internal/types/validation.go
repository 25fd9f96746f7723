package types

import (
	"net/mail"
	"strings"
)

// Validation constraint constants.
const (
	MaxNameLength        = 200
	MaxSubjectLength     = 500
	MaxDescriptionLength = 2000
)

// ValidateTimingConfig checks the interval/grace bounds shared by switch
// creation and configuration updates.
func ValidateTimingConfig(intervalDays, graceDays int) error {
	if intervalDays < MinCheckInIntervalDays || intervalDays > MaxCheckInIntervalDays {
		return NewAppErrorWithDetails(ErrCodeValidationInterval,
			"check-in interval out of range", nil,
			map[string]any{"interval_days": intervalDays, "min": MinCheckInIntervalDays, "max": MaxCheckInIntervalDays})
	}
	if graceDays < MinGracePeriodDays || graceDays > MaxGracePeriodDays {
		return NewAppErrorWithDetails(ErrCodeValidationGracePeriod,
			"grace period out of range", nil,
			map[string]any{"grace_days": graceDays, "min": MinGracePeriodDays, "max": MaxGracePeriodDays})
	}
	if graceDays > intervalDays {
		return NewAppErrorWithDetails(ErrCodeValidationGracePeriod,
			"grace period must not exceed check-in interval", nil,
			map[string]any{"grace_days": graceDays, "interval_days": intervalDays})
	}
	return nil
}

// ValidateRecipientEmail performs the address sanity check applied at
// message creation. Deliverability is only known at send time; an address
// rejected by the provider surfaces as a permanent delivery failure.
func ValidateRecipientEmail(addr string) error {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return NewAppError(ErrCodeValidationMissingField, "recipient email is required", nil)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidEmail,
			"recipient email is not a valid address", err,
			map[string]any{"recipient": trimmed})
	}
	return nil
}
