package types

import (
	"encoding/json"
	"time"
)

// Switch is the core domain entity: a recurring proof-of-life obligation.
// The owner must check in at least every CheckInIntervalDays; once the
// grace period after the due date has elapsed, the switch becomes eligible
// to trigger and its messages are released for delivery.
type Switch struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	// Timing configuration. GracePeriodDays never exceeds
	// CheckInIntervalDays, enforced at creation and update.
	CheckInIntervalDays int `json:"check_in_interval_days" db:"check_in_interval_days"`
	GracePeriodDays     int `json:"grace_period_days" db:"grace_period_days"`

	// Status is the single authoritative lifecycle field.
	// Whether monitoring is live is derived, never stored separately.
	Status SwitchStatus `json:"status" db:"status"`

	LastCheckIn    time.Time  `json:"last_check_in" db:"last_check_in"`
	NextCheckInDue time.Time  `json:"next_check_in_due" db:"next_check_in_due"`
	TriggeredAt    *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`

	// Version increments on every mutation. All writes are
	// compare-and-swap on this field.
	Version int64 `json:"-" db:"version"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// IsMonitoring reports whether the switch is live and counting down.
func (s *Switch) IsMonitoring() bool {
	return s.Status == SwitchStatusActive && s.DeletedAt == nil
}

// CheckInInterval returns the configured interval as a duration.
func (s *Switch) CheckInInterval() time.Duration {
	return time.Duration(s.CheckInIntervalDays) * 24 * time.Hour
}

// GracePeriod returns the configured grace period as a duration.
func (s *Switch) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodDays) * 24 * time.Hour
}

// Message is a pre-authored payload released to one recipient when its
// switch triggers. Content arrives encrypted from an external collaborator
// and is never handled in plaintext here.
type Message struct {
	ID       string `json:"id" db:"id"`
	SwitchID string `json:"switch_id" db:"switch_id"`

	RecipientEmail string `json:"recipient_email" db:"recipient_email"`
	RecipientName  string `json:"recipient_name,omitempty" db:"recipient_name"`
	Subject        string `json:"subject" db:"subject"`

	// Opaque ciphertext. Decryption happens on the recipient side.
	EncryptedContent string `json:"-" db:"encrypted_content"`

	// IsSent is monotonic: once true it never reverts. It is the
	// authoritative dedup signal for queue redeliveries.
	IsSent bool       `json:"is_sent" db:"is_sent"`
	SentAt *time.Time `json:"sent_at,omitempty" db:"sent_at"`

	DeliveryAttempts int        `json:"delivery_attempts" db:"delivery_attempts"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	FailureReason    string     `json:"failure_reason,omitempty" db:"failure_reason"`

	// IdempotencyKey is assigned at creation and stable for the message's
	// lifetime; the transport may dedup on it independently.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Version int64 `json:"-" db:"version"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// OwnerContact is the minimal owner record the reminder scanner needs.
// Account management lives in an external system; the owners table here is
// a read-only projection that system keeps in sync.
type OwnerContact struct {
	OwnerID     string `json:"owner_id" db:"owner_id"`
	Email       string `json:"email" db:"email"`
	DisplayName string `json:"display_name,omitempty" db:"display_name"`
}

// CheckInRecord is an append-only log of successful check-ins,
// purged by the retention job after its window.
type CheckInRecord struct {
	ID          int64         `json:"id" db:"id"`
	SwitchID    string        `json:"switch_id" db:"switch_id"`
	CheckedInAt time.Time     `json:"checked_in_at" db:"checked_in_at"`
	Method      CheckInMethod `json:"method" db:"method"`
}

// AuditEntry records an irreversible event for later reconciliation.
// Writes are best-effort: an audit failure never fails the operation
// it describes.
type AuditEntry struct {
	ID         int64           `json:"id" db:"id"`
	EventType  AuditEventType  `json:"event_type" db:"event_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Actor      string          `json:"actor" db:"actor"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// JobRun tracks scheduled job execution history.
type JobRun struct {
	ID         int64      `json:"id" db:"id"`
	JobType    string     `json:"job_type" db:"job_type"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     JobStatus  `json:"status" db:"status"`
	ItemsCount int        `json:"items_count" db:"items_count"`
	Error      string     `json:"error,omitempty" db:"error"`
}

// SendResult captures the outcome of one transport send attempt.
type SendResult struct {
	ProviderMessageID string
	FailureReason     string
	Retryable         bool
}

// SwitchConfigUpdate carries the mutable configuration fields for
// UpdateConfiguration. Nil pointers leave the field unchanged.
type SwitchConfigUpdate struct {
	Name                *string
	Description         *string
	CheckInIntervalDays *int
	GracePeriodDays     *int
}
