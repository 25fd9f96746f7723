package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lifeline/internal/types"
)

// MessageRepository provides data access for the messages table. Updates
// follow the same version compare-and-swap discipline as switches so the
// dispatcher can detect a concurrent attempt on the same message.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new MessageRepository backed by the given
// database connection (pool or transaction).
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const msgColumns = `m.id, m.switch_id, m.recipient_email, m.recipient_name,
	m.subject, m.encrypted_content, m.is_sent, m.sent_at,
	m.delivery_attempts, m.last_attempt_at, m.failure_reason,
	m.idempotency_key, m.version, m.created_at, m.updated_at, m.deleted_at`

func scanMessage(row pgx.Row) (*types.Message, error) {
	var m types.Message
	var recipientName, failureReason *string

	err := row.Scan(
		&m.ID,
		&m.SwitchID,
		&m.RecipientEmail,
		&recipientName,
		&m.Subject,
		&m.EncryptedContent,
		&m.IsSent,
		&m.SentAt,
		&m.DeliveryAttempts,
		&m.LastAttemptAt,
		&failureReason,
		&m.IdempotencyKey,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if recipientName != nil {
		m.RecipientName = *recipientName
	}
	if failureReason != nil {
		m.FailureReason = *failureReason
	}
	return &m, nil
}

// Create inserts a new message. The idempotency key column is unique; a
// collision surfaces as ErrCodeConflictIdempotency.
func (r *MessageRepository) Create(ctx context.Context, m *types.Message) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (
			id, switch_id, recipient_email, recipient_name,
			subject, encrypted_content, is_sent, sent_at,
			delivery_attempts, last_attempt_at, failure_reason,
			idempotency_key, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, COALESCE($14, NOW()), COALESCE($15, NOW())
		)`,
		m.ID,
		m.SwitchID,
		m.RecipientEmail,
		nilIfEmpty(m.RecipientName),
		m.Subject,
		m.EncryptedContent,
		m.IsSent,
		m.SentAt,
		m.DeliveryAttempts,
		m.LastAttemptAt,
		nilIfEmpty(m.FailureReason),
		m.IdempotencyKey,
		m.Version,
		nilIfZeroTime(m.CreatedAt),
		nilIfZeroTime(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictIdempotency,
				"message with this idempotency key already exists", err,
				map[string]any{"idempotency_key": m.IdempotencyKey})
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create message", err)
	}
	return nil
}

// GetByID retrieves a message by its ID, including soft-deleted rows.
// Returns ErrCodeNotFoundMessage if no row exists.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*types.Message, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+msgColumns+`
		 FROM messages m
		 WHERE m.id = $1`,
		id,
	)

	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMessage, "message not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve message", err)
	}
	return m, nil
}

// FindUnsentBySwitch returns the non-deleted, unsent messages attached to a
// switch, creation order. The dispatcher re-checks sendability per message;
// this only scopes the enqueue fan-out.
func (r *MessageRepository) FindUnsentBySwitch(ctx context.Context, switchID string) ([]*types.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+msgColumns+`
		 FROM messages m
		 WHERE m.switch_id = $1
		   AND m.is_sent = FALSE
		   AND m.deleted_at IS NULL
		 ORDER BY m.created_at ASC`,
		switchID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query unsent messages", err)
	}
	defer rows.Close()

	var results []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message row", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating message rows", err)
	}
	return results, nil
}

// Update writes the message back with a compare-and-swap on version,
// mirroring SwitchRepository.Update. On success the in-memory version is
// bumped to match the stored row.
func (r *MessageRepository) Update(ctx context.Context, m *types.Message) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET
			is_sent = $1,
			sent_at = $2,
			delivery_attempts = $3,
			last_attempt_at = $4,
			failure_reason = $5,
			deleted_at = $6,
			updated_at = $7,
			version = version + 1
		 WHERE id = $8 AND version = $9`,
		m.IsSent,
		m.SentAt,
		m.DeliveryAttempts,
		m.LastAttemptAt,
		nilIfEmpty(m.FailureReason),
		m.DeletedAt,
		m.UpdatedAt,
		m.ID,
		m.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update message", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissedWrite(ctx, m.ID, m.Version)
	}

	m.Version++
	return nil
}

func (r *MessageRepository) classifyMissedWrite(ctx context.Context, id string, expected int64) error {
	var current int64
	err := r.db.QueryRow(ctx,
		`SELECT version FROM messages WHERE id = $1`, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeNotFoundMessage, "message not found", nil)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to probe message version", err)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictVersion,
		"message was modified concurrently", nil,
		map[string]any{"message_id": id, "expected_version": expected, "stored_version": current})
}

// PurgeSoftDeleted hard-deletes messages soft-deleted before the cutoff,
// independently of their parent switch. Returns the count removed.
func (r *MessageRepository) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM messages
		 WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge soft-deleted messages", err)
	}
	return tag.RowsAffected(), nil
}
