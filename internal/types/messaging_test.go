package types

import (
	"encoding/json"
	"testing"
	"time"
)

// TestDeliveryJobJSONContract verifies that DeliveryJob serializes to JSON
// with the exact snake_case keys the delivery worker expects. This is the
// SQS contract between the scanner and the worker; a renamed key silently
// zeroes a field on the consuming side.
func TestDeliveryJobJSONContract(t *testing.T) {
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	job := DeliveryJob{
		MessageID:        "msg_abc123",
		SwitchID:         "sw_xyz789",
		RecipientEmail:   "recipient@example.com",
		RecipientName:    "Alex Recipient",
		Subject:          "A message for you",
		EncryptedContent: "AGE-ENCRYPTED-BLOB",
		IdempotencyKey:   "idem_550e8400",
		Attempt:          1,
		TraceID:          "1-67890abc-def012345678",
		EnqueuedAt:       now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}

	requiredKeys := []string{
		"message_id",
		"switch_id",
		"recipient_email",
		"subject",
		"encrypted_content",
		"idempotency_key",
		"attempt",
		"trace_id",
		"enqueued_at",
	}

	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			t.Errorf("Missing required JSON key: %q", key)
		}
	}

	var decoded DeliveryJob
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Round-trip unmarshal failed: %v", err)
	}
	if decoded.MessageID != job.MessageID {
		t.Errorf("MessageID: got %q, want %q", decoded.MessageID, job.MessageID)
	}
	if decoded.Attempt != 1 {
		t.Errorf("Attempt: got %d, want 1", decoded.Attempt)
	}
	if !decoded.EnqueuedAt.Equal(now) {
		t.Errorf("EnqueuedAt: got %v, want %v", decoded.EnqueuedAt, now)
	}
}

// TestDeliveryJobOmitsEmptyRecipientName verifies the optional field is
// dropped rather than emitted as an empty string.
func TestDeliveryJobOmitsEmptyRecipientName(t *testing.T) {
	job := DeliveryJob{MessageID: "msg_1", SwitchID: "sw_1", Attempt: 1}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}
	if _, ok := raw["recipient_name"]; ok {
		t.Error("recipient_name should be omitted when empty")
	}
}
