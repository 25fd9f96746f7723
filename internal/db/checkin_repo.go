package db

import (
	"context"
	"time"

	"lifeline/internal/types"
)

// CheckInRepository provides data access for the check_ins table, an
// append-only history of proof-of-life events. Rows are never updated;
// retention trims them by age.
type CheckInRepository struct {
	db DBTX
}

// NewCheckInRepository creates a new CheckInRepository backed by the given
// database connection (pool or transaction).
func NewCheckInRepository(db DBTX) *CheckInRepository {
	return &CheckInRepository{db: db}
}

// Record appends a check-in event for a switch.
func (r *CheckInRepository) Record(ctx context.Context, rec *types.CheckInRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO check_ins (switch_id, checked_in_at, method)
		 VALUES ($1, COALESCE($2, NOW()), $3)`,
		rec.SwitchID,
		nilIfZeroTime(rec.CheckedInAt),
		rec.Method,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record check-in", err)
	}
	return nil
}

// CountSince returns how many check-ins a switch has recorded since the
// given time.
func (r *CheckInRepository) CountSince(ctx context.Context, switchID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM check_ins
		 WHERE switch_id = $1 AND checked_in_at > $2`,
		switchID, since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count check-ins", err)
	}
	return count, nil
}

// DeleteBefore removes check-in rows older than the cutoff. Returns the
// count of removed rows for the retention job's accounting.
func (r *CheckInRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM check_ins WHERE checked_in_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old check-ins", err)
	}
	return tag.RowsAffected(), nil
}
