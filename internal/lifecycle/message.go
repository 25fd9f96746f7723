package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"lifeline/internal/types"
)

// NewMessage creates an unsent message bound to a switch. The idempotency
// key is assigned here and never changes; the transport can dedup on it
// across its own internal retries.
func NewMessage(switchID, recipientEmail, recipientName, subject, encryptedContent string, now time.Time) (*types.Message, error) {
	if switchID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "switch id is required", nil)
	}
	if err := types.ValidateRecipientEmail(recipientEmail); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "subject is required", nil)
	}
	if encryptedContent == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "encrypted content is required", nil)
	}

	return &types.Message{
		ID:               uuid.NewString(),
		SwitchID:         switchID,
		RecipientEmail:   recipientEmail,
		RecipientName:    recipientName,
		Subject:          subject,
		EncryptedContent: encryptedContent,
		IdempotencyKey:   uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}, nil
}

// CanBeSent reports whether a delivery attempt is still permitted: the
// message is unsent, not deleted, and has attempts remaining. A message at
// the attempt cap stays undeliverable until manual intervention.
func CanBeSent(m *types.Message) bool {
	return !m.IsSent && m.DeletedAt == nil && m.DeliveryAttempts < types.MaxDeliveryAttempts
}

// MarkSent flips the monotonic sent flag. Marking an already sent message
// fails without changing anything, which makes the mark idempotent under
// queue redelivery: the second delivery of the same job observes the
// rejection and treats the job as complete.
func MarkSent(m *types.Message, now time.Time) error {
	if m.IsSent {
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidState,
			"message is already marked sent", nil,
			map[string]any{"message_id": m.ID})
	}

	sentAt := now
	m.IsSent = true
	m.SentAt = &sentAt
	m.UpdatedAt = now
	return nil
}

// RecordDeliveryAttempt counts one failed attempt and stores the reason.
// Rejected on sent messages and once the cap is reached; the dispatcher
// checks CanBeSent before attempting, so a cap rejection here means two
// workers raced on the same job.
func RecordDeliveryAttempt(m *types.Message, reason string, now time.Time) error {
	if m.IsSent {
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidState,
			"cannot record attempt on a sent message", nil,
			map[string]any{"message_id": m.ID})
	}
	if m.DeliveryAttempts >= types.MaxDeliveryAttempts {
		return types.NewAppErrorWithDetails(types.ErrCodeDeliveryExhausted,
			fmt.Sprintf("message already at %d attempts", m.DeliveryAttempts), nil,
			map[string]any{"message_id": m.ID})
	}

	attemptAt := now
	m.DeliveryAttempts++
	m.LastAttemptAt = &attemptAt
	m.FailureReason = reason
	m.UpdatedAt = now
	return nil
}

// MarkPermanentlyFailed records a failure that no retry can fix (invalid
// recipient, rejected sender). The attempt counter jumps to the cap so
// CanBeSent is false immediately, regardless of how many attempts were used.
func MarkPermanentlyFailed(m *types.Message, reason string, now time.Time) error {
	if m.IsSent {
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidState,
			"cannot fail a sent message", nil,
			map[string]any{"message_id": m.ID})
	}

	attemptAt := now
	m.DeliveryAttempts = types.MaxDeliveryAttempts
	m.LastAttemptAt = &attemptAt
	m.FailureReason = reason
	m.UpdatedAt = now
	return nil
}
