package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the platform.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NotificationSender is the external transport collaborator. It performs one
// network send attempt. Encryption and decryption of content are entirely
// its concern; this subsystem hands it opaque ciphertext.
//
// A returned error should be an AppError with ErrCodeDeliveryTransient or
// ErrCodeDeliveryPermanent so the dispatcher can classify the failure.
// The idempotency key lets the transport dedup on its own side if it
// retries internally.
type NotificationSender interface {
	Send(ctx context.Context, recipient string, subject string, content string, idempotencyKey string) (*SendResult, error)
}

// Cache is the short-lived cache collaborator, used only for reminder
// deduplication. Never authoritative state: a cache outage degrades to
// duplicate reminders, not to lost triggers.
type Cache interface {
	// SetNX stores the value only if the key is absent, returning true
	// when this caller won. The atomic check-and-set is what makes the
	// dedup safe under concurrent scanner runs.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	// Del removes the key. Releasing a dedup claim after a failed send
	// lets a later scan cycle retry instead of waiting out the TTL.
	Del(ctx context.Context, key string) error
}

// MetricPublisher records operational counters. Implementations must never
// fail the calling operation; publishing errors are logged and dropped.
type MetricPublisher interface {
	Count(ctx context.Context, name string, value float64, dimensions map[string]string)
}
