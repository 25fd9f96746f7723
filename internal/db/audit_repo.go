package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"lifeline/internal/types"
)

// AuditRepository provides data access for the audit_log table. Writes are
// best-effort: callers log and continue when an append fails, an audit gap
// must never block a trigger or a delivery.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository backed by the given
// database connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append records an audit event.
func (r *AuditRepository) Append(ctx context.Context, entry *types.AuditEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (event_type, entity_id, actor, details, occurred_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		entry.EventType,
		entry.EntityID,
		nilIfEmpty(entry.Actor),
		entry.Details,
		nilIfZeroTime(entry.OccurredAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit entry", err)
	}
	return nil
}

// ListBefore returns audit entries older than the cutoff, oldest first, up
// to limit. The retention job pages through this to archive entries before
// deleting them.
func (r *AuditRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, event_type, entity_id, actor, details, occurred_at
		 FROM audit_log
		 WHERE occurred_at < $1
		 ORDER BY occurred_at ASC, id ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query audit entries", err)
	}
	defer rows.Close()

	var results []*types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var actor *string
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityID, &actor, &e.Details, &e.OccurredAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit row", err)
		}
		if actor != nil {
			e.Actor = *actor
		}
		results = append(results, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating audit rows", err)
	}
	return results, nil
}

// DeleteByIDs removes the given audit entries after they have been archived.
// Returns the count of removed rows.
func (r *AuditRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM audit_log WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived audit entries", err)
	}
	return tag.RowsAffected(), nil
}

// nilIfEmpty returns nil if the string is empty, otherwise returns a pointer
// to the string. Used for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime returns nil if the time is zero, otherwise returns a pointer
// to the time. Used to let the DB default (NOW()) apply when no time is set.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505). Used by repositories to detect duplicate
// key conflicts and return appropriate application-level errors.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
