// Package delivery implements the dispatcher that consumes delivery jobs
// from the queue and drives a message through its send lifecycle.
//
// Two retry layers exist and must not be conflated. The queue redelivers a
// job whenever processing returns an error (infrastructure retry); the
// message row's delivery_attempts counter only advances when an actual send
// attempt against the provider fails (domain retry). A database outage
// therefore never consumes one of the five domain attempts.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lifeline/internal/lifecycle"
	"lifeline/internal/types"
)

// MessageStore is the persistence subset the dispatcher needs. Satisfied by
// *db.MessageRepository.
type MessageStore interface {
	GetByID(ctx context.Context, id string) (*types.Message, error)
	Update(ctx context.Context, m *types.Message) error
}

// Requeuer re-publishes a delivery job after a transient failure. Satisfied
// by *queue.DeliveryPublisher.
type Requeuer interface {
	Publish(ctx context.Context, job types.DeliveryJob, delay time.Duration) error
}

// AuditLog records audit trail entries. Satisfied by *db.AuditRepository.
// Writes are best-effort: the dispatcher logs and continues on failure.
type AuditLog interface {
	Append(ctx context.Context, entry *types.AuditEntry) error
}

// Manager processes delivery jobs. It is safe to invoke concurrently from
// multiple Lambda executions: every state write goes through the message
// version CAS, so duplicate jobs for the same message collapse into one
// effective send.
type Manager struct {
	messages   MessageStore
	sender     types.NotificationSender
	requeue    Requeuer
	audit      AuditLog
	metrics    types.MetricPublisher
	clock      types.Clock
	logger     types.Logger
	retryDelay time.Duration
}

// NewManager creates a delivery Manager. retryDelay is the queue delay
// applied when requeueing after a transient failure.
func NewManager(messages MessageStore, sender types.NotificationSender, requeue Requeuer, audit AuditLog, metrics types.MetricPublisher, clock types.Clock, logger types.Logger, retryDelay time.Duration) *Manager {
	if retryDelay <= 0 {
		retryDelay = 60 * time.Second
	}
	return &Manager{
		messages:   messages,
		sender:     sender,
		requeue:    requeue,
		audit:      audit,
		metrics:    metrics,
		clock:      clock,
		logger:     logger,
		retryDelay: retryDelay,
	}
}

// ProcessJob handles one delivery job end to end. A nil return means the
// job is settled and must not be redelivered; a non-nil return asks the
// queue to redeliver (infrastructure retry, no domain state consumed).
func (m *Manager) ProcessJob(ctx context.Context, job types.DeliveryJob) error {
	log := m.logger.With("message_id", job.MessageID, "switch_id", job.SwitchID, "trace_id", job.TraceID)

	msg, err := m.messages.GetByID(ctx, job.MessageID)
	if err != nil {
		if types.IsNotFound(err) {
			// The row was purged or the job is stale. Nothing to deliver.
			log.Warn("delivery job references missing message, dropping")
			return nil
		}
		return fmt.Errorf("load message %s: %w", job.MessageID, err)
	}

	// Idempotent precondition: a message that is already sent is settled,
	// regardless of how many duplicate jobs the queue delivers.
	if msg.IsSent {
		log.Info("message already sent, dropping duplicate job")
		return nil
	}
	if msg.DeletedAt != nil {
		log.Info("message deleted, dropping job")
		return nil
	}
	if !lifecycle.CanBeSent(msg) {
		log.Warn("message is undeliverable, dropping job",
			"delivery_attempts", msg.DeliveryAttempts)
		return nil
	}

	m.metrics.Count(ctx, types.MetricDeliveryAttempt, 1, nil)

	result, sendErr := m.sender.Send(ctx, msg.RecipientEmail, msg.Subject, msg.EncryptedContent, msg.IdempotencyKey)
	if sendErr == nil {
		return m.handleSendSuccess(ctx, log, msg, result)
	}
	if types.IsPermanentDelivery(sendErr) {
		return m.handlePermanentFailure(ctx, log, msg, sendErr)
	}
	return m.handleTransientFailure(ctx, log, job, msg, sendErr)
}

// handleSendSuccess marks the message sent. If the provider accepted the
// message but the sent flag cannot be persisted, the recipient may receive
// a duplicate on redelivery with no record of the first send. There is no
// safe automated resolution: redelivering risks a duplicate, dropping risks
// losing the audit of what happened. The job is settled and the condition
// is surfaced loudly for operators.
func (m *Manager) handleSendSuccess(ctx context.Context, log types.Logger, msg *types.Message, result *types.SendResult) error {
	now := m.clock.Now()

	if err := lifecycle.MarkSent(msg, now); err != nil {
		// Lost a race with another worker that already marked it.
		log.Info("message marked sent by concurrent worker")
		return nil
	}

	if err := m.messages.Update(ctx, msg); err != nil {
		if types.IsVersionConflict(err) {
			// Another worker's write landed between our read and write.
			// If it recorded a failed attempt while our send succeeded, the
			// sent flag is still unset; treat it the same as a lost write.
			log.Error("message sent but sent flag lost a concurrent write",
				"provider_message_id", providerID(result))
		} else {
			log.Error("message sent but sent flag could not be persisted",
				"provider_message_id", providerID(result),
				"error", err.Error())
		}
		m.metrics.Count(ctx, types.MetricSentMarkLost, 1, nil)
		m.appendAudit(ctx, log, types.AuditSentMarkLost, msg.ID, map[string]any{
			"switch_id":           msg.SwitchID,
			"provider_message_id": providerID(result),
		})
		return nil
	}

	log.Info("message delivered",
		"provider_message_id", providerID(result),
		"delivery_attempts", msg.DeliveryAttempts)
	m.metrics.Count(ctx, types.MetricDeliverySuccess, 1, nil)
	m.appendAudit(ctx, log, types.AuditMessageSent, msg.ID, map[string]any{
		"switch_id":           msg.SwitchID,
		"provider_message_id": providerID(result),
	})
	return nil
}

// handlePermanentFailure settles the job without consuming the remaining
// attempt budget one failure at a time: a rejected recipient address will
// not become valid on retry.
func (m *Manager) handlePermanentFailure(ctx context.Context, log types.Logger, msg *types.Message, sendErr error) error {
	now := m.clock.Now()

	if err := lifecycle.MarkPermanentlyFailed(msg, sendErr.Error(), now); err != nil {
		log.Info("message settled by concurrent worker during permanent failure handling")
		return nil
	}
	if err := m.messages.Update(ctx, msg); err != nil {
		if types.IsVersionConflict(err) || types.IsNotFound(err) {
			log.Info("message settled concurrently, dropping job")
			return nil
		}
		return fmt.Errorf("persist permanent failure for %s: %w", msg.ID, err)
	}

	log.Error("message permanently undeliverable",
		"reason", sendErr.Error())
	m.metrics.Count(ctx, types.MetricDeliveryTerminal, 1,
		map[string]string{types.DimReason: "permanent"})
	m.appendAudit(ctx, log, types.AuditDeliveryTerminal, msg.ID, map[string]any{
		"switch_id": msg.SwitchID,
		"reason":    sendErr.Error(),
	})
	return nil
}

// handleTransientFailure records the attempt and requeues with a delay, or
// settles the message as terminally failed once the attempt budget is spent.
func (m *Manager) handleTransientFailure(ctx context.Context, log types.Logger, job types.DeliveryJob, msg *types.Message, sendErr error) error {
	now := m.clock.Now()

	if err := lifecycle.RecordDeliveryAttempt(msg, sendErr.Error(), now); err != nil {
		// Counter already at the cap or message settled concurrently.
		log.Warn("could not record delivery attempt, dropping job",
			"error", err.Error())
		return nil
	}
	if err := m.messages.Update(ctx, msg); err != nil {
		if types.IsVersionConflict(err) || types.IsNotFound(err) {
			log.Info("message updated concurrently, dropping job")
			return nil
		}
		// Attempt not persisted: let the queue redeliver without having
		// consumed domain state.
		return fmt.Errorf("persist delivery attempt for %s: %w", msg.ID, err)
	}

	m.metrics.Count(ctx, types.MetricDeliveryFailed, 1, nil)

	if msg.DeliveryAttempts >= types.MaxDeliveryAttempts {
		log.Error("message exhausted delivery attempts",
			"delivery_attempts", msg.DeliveryAttempts,
			"reason", sendErr.Error())
		m.metrics.Count(ctx, types.MetricDeliveryTerminal, 1,
			map[string]string{types.DimReason: "exhausted"})
		m.appendAudit(ctx, log, types.AuditDeliveryTerminal, msg.ID, map[string]any{
			"switch_id": msg.SwitchID,
			"attempts":  msg.DeliveryAttempts,
			"reason":    sendErr.Error(),
		})
		return nil
	}

	if err := m.requeue.Publish(ctx, job, m.retryDelay); err != nil {
		// The attempt is recorded; redelivery by the queue will retry the
		// send with the updated counter.
		return fmt.Errorf("requeue job for %s: %w", msg.ID, err)
	}

	log.Warn("delivery failed, requeued",
		"delivery_attempts", msg.DeliveryAttempts,
		"delay", m.retryDelay.String(),
		"reason", sendErr.Error())
	return nil
}

// appendAudit writes an audit entry, logging instead of failing when the
// write does not land.
func (m *Manager) appendAudit(ctx context.Context, log types.Logger, eventType types.AuditEventType, entityID string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &types.AuditEntry{
		EventType:  eventType,
		EntityID:   entityID,
		Actor:      "delivery-worker",
		Details:    payload,
		OccurredAt: m.clock.Now(),
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		log.Warn("audit append failed",
			"event_type", string(eventType),
			"error", err.Error())
	}
}

func providerID(result *types.SendResult) string {
	if result == nil {
		return ""
	}
	return result.ProviderMessageID
}
