package types

import "time"

// DeliveryJob is the SQS payload for one message delivery attempt, produced
// by the check-switches scanner (and re-published by the dispatcher on
// transient failure). One job = one message = one attempt. The queue gives
// at-least-once delivery, so consumers must treat the job as potentially
// redelivered and rely on the message's IsSent flag for dedup.
type DeliveryJob struct {
	MessageID string `json:"message_id"`
	SwitchID  string `json:"switch_id"`

	// Snapshot of the delivery target at enqueue time. The dispatcher
	// still reloads the message for the authoritative sent/attempt state.
	RecipientEmail   string `json:"recipient_email"`
	RecipientName    string `json:"recipient_name,omitempty"`
	Subject          string `json:"subject"`
	EncryptedContent string `json:"encrypted_content"`
	IdempotencyKey   string `json:"idempotency_key"`

	// Attempt is the domain-level attempt counter hint, starting at 1.
	// Incremented by the publisher before each re-publish. Distinct from
	// queue-level redelivery of the same job.
	Attempt int `json:"attempt"`

	// Observability
	TraceID    string    `json:"trace_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
