package db

import (
	"context"
	"time"

	"lifeline/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table.
// The locking mechanism uses INSERT ... ON CONFLICT DO UPDATE to atomically
// acquire a lock, ensuring only one scanner execution processes a given
// task within a time window. Without it, an EventBridge retry and the
// original invocation could both scan and double-enqueue deliveries.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is typically
// "task_type:timestamp_hour" (e.g., "check_switches:2026-08-29T14").
//
// SQL pattern:
//
//	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE job_locks.expires_at < $3
//
// The locked_at ($3) and expires_at ($4) are computed as time.Time values in Go
// to avoid PostgreSQL interval parsing incompatibilities with Go's duration format.
//
// If the existing row has expired (expires_at < current time), the UPDATE succeeds
// and the caller acquires the lock. If the row is still active, the ON CONFLICT
// WHERE clause prevents the update, and zero rows are affected.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// RowsAffected is 1 if the INSERT succeeded (new row) or if the
	// ON CONFLICT UPDATE matched (expired lock reclaimed). It is 0 if
	// the lock exists and has not expired (another worker holds it).
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes lock rows whose expiry has passed. Expired locks
// are inert (Acquire reclaims them in place), so this is purely to keep the
// table small; the retention job runs it daily.
func (r *JobLockRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired job locks", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository provides data access for the job_runs table. Job run
// entries track the execution of scheduled tasks for operational visibility
// and debugging; the job-runner CLI reads them via --list.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a new job_runs row with status 'running' and returns the
// auto-generated BIGSERIAL ID. The caller uses this ID to later call
// Finish with the outcome.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_runs (job_type, started_at, status)
		 VALUES ($1, NOW(), $2)
		 RETURNING id`,
		jobType,
		types.JobStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job run entry", err)
	}
	return id, nil
}

// Finish updates the job_runs row with the final status, item count, and
// optional error message. If jobErr is non-nil, its message is stored in
// the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status types.JobStatus, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_runs
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job run entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job run entry not found", nil)
	}
	return nil
}

// ListRecent returns the most recent job runs, newest first, up to limit.
func (r *JobHistoryRepository) ListRecent(ctx context.Context, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, job_type, started_at, finished_at, status, COALESCE(items_count, 0), COALESCE(error, '')
		 FROM job_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query job runs", err)
	}
	defer rows.Close()

	var runs []*types.JobRun
	for rows.Next() {
		var jr types.JobRun
		if err := rows.Scan(&jr.ID, &jr.JobType, &jr.StartedAt, &jr.FinishedAt, &jr.Status, &jr.ItemsCount, &jr.Error); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job run row", err)
		}
		runs = append(runs, &jr)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job run rows", err)
	}
	return runs, nil
}

// DeleteFinishedBefore removes finished job run rows (succeeded or failed)
// started before the cutoff. Rows still marked running are kept regardless
// of age so a wedged run stays visible.
func (r *JobHistoryRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_runs
		 WHERE status <> $1 AND started_at < $2`,
		types.JobStatusRunning,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old job runs", err)
	}
	return tag.RowsAffected(), nil
}
