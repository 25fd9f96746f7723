package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lifeline/internal/types"
)

// SwitchRepository provides data access for the switches table.
//
// Update is a compare-and-swap on the version column. The scanner and any
// concurrent worker read the same row, and only one of them lands the write;
// the loser gets ErrCodeConflictVersion and treats the switch as already
// handled.
type SwitchRepository struct {
	db DBTX
}

// NewSwitchRepository creates a new SwitchRepository backed by the given
// database connection (pool or transaction).
func NewSwitchRepository(db DBTX) *SwitchRepository {
	return &SwitchRepository{db: db}
}

// swColumns defines the standard set of columns selected for switch queries.
const swColumns = `s.id, s.owner_id, s.name, s.description,
	s.check_in_interval_days, s.grace_period_days, s.status,
	s.last_check_in, s.next_check_in_due, s.triggered_at,
	s.version, s.created_at, s.updated_at, s.deleted_at`

// scanSwitch scans a single switch row. The scan targets must match the
// order defined in swColumns.
func scanSwitch(row pgx.Row) (*types.Switch, error) {
	var s types.Switch
	var description *string

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&description,
		&s.CheckInIntervalDays,
		&s.GracePeriodDays,
		&s.Status,
		&s.LastCheckIn,
		&s.NextCheckInDue,
		&s.TriggeredAt,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if description != nil {
		s.Description = *description
	}
	return &s, nil
}

// Create inserts a new switch record. The caller sets the ID and version 1
// before calling (lifecycle.NewSwitch does both).
func (r *SwitchRepository) Create(ctx context.Context, s *types.Switch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO switches (
			id, owner_id, name, description,
			check_in_interval_days, grace_period_days, status,
			last_check_in, next_check_in_due, triggered_at,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, COALESCE($12, NOW()), COALESCE($13, NOW())
		)`,
		s.ID,
		s.OwnerID,
		s.Name,
		nilIfEmpty(s.Description),
		s.CheckInIntervalDays,
		s.GracePeriodDays,
		s.Status,
		s.LastCheckIn,
		s.NextCheckInDue,
		s.TriggeredAt,
		s.Version,
		nilIfZeroTime(s.CreatedAt),
		nilIfZeroTime(s.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create switch", err)
	}
	return nil
}

// GetByID retrieves a switch by its ID, including soft-deleted rows: callers
// in the delivery path need to observe the deleted flag rather than treat
// the row as vanished. Returns ErrCodeNotFoundSwitch if no row exists.
func (r *SwitchRepository) GetByID(ctx context.Context, id string) (*types.Switch, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+swColumns+`
		 FROM switches s
		 WHERE s.id = $1`,
		id,
	)

	s, err := scanSwitch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSwitch, "switch not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve switch", err)
	}
	return s, nil
}

// Update writes the switch back with a compare-and-swap on version. The
// entity carries the version the caller read; the statement both guards on
// it and increments it. On success the in-memory version is bumped to match
// the stored row.
//
// A zero-row result means either the row vanished (ErrCodeNotFoundSwitch)
// or another writer won (ErrCodeConflictVersion); a cheap existence probe
// distinguishes the two.
func (r *SwitchRepository) Update(ctx context.Context, s *types.Switch) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE switches SET
			name = $1,
			description = $2,
			check_in_interval_days = $3,
			grace_period_days = $4,
			status = $5,
			last_check_in = $6,
			next_check_in_due = $7,
			triggered_at = $8,
			deleted_at = $9,
			updated_at = $10,
			version = version + 1
		 WHERE id = $11 AND version = $12`,
		s.Name,
		nilIfEmpty(s.Description),
		s.CheckInIntervalDays,
		s.GracePeriodDays,
		s.Status,
		s.LastCheckIn,
		s.NextCheckInDue,
		s.TriggeredAt,
		s.DeletedAt,
		s.UpdatedAt,
		s.ID,
		s.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update switch", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissedWrite(ctx, s.ID, s.Version)
	}

	s.Version++
	return nil
}

// classifyMissedWrite distinguishes a stale version from a vanished row
// after a CAS update matched nothing.
func (r *SwitchRepository) classifyMissedWrite(ctx context.Context, id string, expected int64) error {
	var current int64
	err := r.db.QueryRow(ctx,
		`SELECT version FROM switches WHERE id = $1`, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeNotFoundSwitch, "switch not found", nil)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to probe switch version", err)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictVersion,
		"switch was modified concurrently", nil,
		map[string]any{"switch_id": id, "expected_version": expected, "stored_version": current})
}

// FindDueForTrigger returns actively monitored switches whose grace period
// has fully elapsed, oldest deadline first, up to limit. The comparison is
// strict: a switch whose grace ends exactly at now is not yet returned.
func (r *SwitchRepository) FindDueForTrigger(ctx context.Context, now time.Time, limit int) ([]*types.Switch, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+swColumns+`
		 FROM switches s
		 WHERE s.status = 'active'
		   AND s.deleted_at IS NULL
		   AND s.next_check_in_due + make_interval(days => s.grace_period_days) < $1
		 ORDER BY s.next_check_in_due ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due switches", err)
	}
	defer rows.Close()

	return collectSwitches(rows)
}

// FindApproachingDue returns actively monitored switches that have consumed
// at least the given fraction of their check-in interval, for the reminder
// scanner. Switches already past their grace period are the trigger
// scanner's business and are excluded here.
func (r *SwitchRepository) FindApproachingDue(ctx context.Context, now time.Time, fraction float64, limit int) ([]*types.Switch, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+swColumns+`
		 FROM switches s
		 WHERE s.status = 'active'
		   AND s.deleted_at IS NULL
		   AND EXTRACT(EPOCH FROM ($1 - s.last_check_in)) >= s.check_in_interval_days * 86400 * $2
		   AND s.next_check_in_due + make_interval(days => s.grace_period_days) >= $1
		 ORDER BY s.next_check_in_due ASC
		 LIMIT $3`,
		now, fraction, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query approaching switches", err)
	}
	defer rows.Close()

	return collectSwitches(rows)
}

// PurgeSoftDeleted hard-deletes switches soft-deleted before the cutoff.
// Messages belonging to them go via ON DELETE CASCADE. Returns the count
// of removed switches.
func (r *SwitchRepository) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM switches
		 WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge soft-deleted switches", err)
	}
	return tag.RowsAffected(), nil
}

func collectSwitches(rows pgx.Rows) ([]*types.Switch, error) {
	var results []*types.Switch
	for rows.Next() {
		s, err := scanSwitch(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan switch row", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating switch rows", err)
	}
	return results, nil
}
