package types

// SwitchStatus represents the lifecycle state of a Switch.
// Triggered and expired are terminal: no transition leaves them.
type SwitchStatus string

const (
	SwitchStatusActive    SwitchStatus = "active"
	SwitchStatusPaused    SwitchStatus = "paused"
	SwitchStatusTriggered SwitchStatus = "triggered"
	SwitchStatusExpired   SwitchStatus = "expired"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s SwitchStatus) Terminal() bool {
	return s == SwitchStatusTriggered || s == SwitchStatusExpired
}

// CheckInMethod identifies how a check-in was performed.
type CheckInMethod string

const (
	CheckInMethodWeb   CheckInMethod = "web"
	CheckInMethodEmail CheckInMethod = "email"
	CheckInMethodAPI   CheckInMethod = "api"
)

// TriggerReason records why a switch fired or was force-fired.
type TriggerReason string

const (
	TriggerReasonOverdue TriggerReason = "grace_period_expired"
	TriggerReasonManual  TriggerReason = "operator_action"
)

// AuditEventType identifies the kind of audit trail entry.
type AuditEventType string

const (
	AuditSwitchTriggered  AuditEventType = "switch_triggered"
	AuditSwitchExpired    AuditEventType = "switch_expired"
	AuditMessageSent      AuditEventType = "message_sent"
	AuditDeliveryTerminal AuditEventType = "delivery_terminal_failure"
	AuditSentMarkLost     AuditEventType = "sent_mark_not_persisted"
	AuditRetentionPurge   AuditEventType = "retention_purge"
)

// JobStatus represents the state of a scheduled job run.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Delivery limits. MaxDeliveryAttempts caps the domain-level retry counter
// on a message; once reached the message is permanently undeliverable
// without manual intervention. This is independent of queue redelivery.
const (
	MaxDeliveryAttempts = 5
)

// Switch configuration bounds, enforced at creation and update.
const (
	MinCheckInIntervalDays = 1
	MaxCheckInIntervalDays = 365
	MinGracePeriodDays     = 0
	MaxGracePeriodDays     = 365
)
