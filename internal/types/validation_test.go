package types

import (
	"errors"
	"testing"
)

func TestValidateTimingConfig(t *testing.T) {
	tests := []struct {
		name         string
		intervalDays int
		graceDays    int
		wantCode     ErrorCode
	}{
		{name: "typical weekly config", intervalDays: 7, graceDays: 2},
		{name: "minimum interval", intervalDays: 1, graceDays: 0},
		{name: "maximum interval", intervalDays: 365, graceDays: 365},
		{name: "grace equals interval", intervalDays: 30, graceDays: 30},
		{name: "zero grace", intervalDays: 14, graceDays: 0},

		{name: "interval zero", intervalDays: 0, graceDays: 0, wantCode: ErrCodeValidationInterval},
		{name: "interval negative", intervalDays: -1, graceDays: 0, wantCode: ErrCodeValidationInterval},
		{name: "interval above max", intervalDays: 366, graceDays: 0, wantCode: ErrCodeValidationInterval},
		{name: "grace negative", intervalDays: 7, graceDays: -1, wantCode: ErrCodeValidationGracePeriod},
		{name: "grace above max", intervalDays: 365, graceDays: 366, wantCode: ErrCodeValidationGracePeriod},
		{name: "grace exceeds interval", intervalDays: 7, graceDays: 8, wantCode: ErrCodeValidationGracePeriod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimingConfig(tt.intervalDays, tt.graceDays)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *AppError, got %T", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", appErr.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateRecipientEmail(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantCode ErrorCode
	}{
		{name: "simple address", addr: "alex@example.com"},
		{name: "address with name part", addr: "Alex <alex@example.com>"},
		{name: "surrounding whitespace", addr: "  alex@example.com  "},

		{name: "empty", addr: "", wantCode: ErrCodeValidationMissingField},
		{name: "whitespace only", addr: "   ", wantCode: ErrCodeValidationMissingField},
		{name: "missing domain", addr: "alex@", wantCode: ErrCodeValidationInvalidEmail},
		{name: "missing at sign", addr: "alex.example.com", wantCode: ErrCodeValidationInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecipientEmail(tt.addr)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected valid address, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *AppError, got %T", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", appErr.Code, tt.wantCode)
			}
		})
	}
}

func TestSwitchStatusTerminal(t *testing.T) {
	tests := []struct {
		status SwitchStatus
		want   bool
	}{
		{SwitchStatusActive, false},
		{SwitchStatusPaused, false},
		{SwitchStatusTriggered, true},
		{SwitchStatusExpired, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("SwitchStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
