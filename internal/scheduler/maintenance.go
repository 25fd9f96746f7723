package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"lifeline/internal/types"
)

// Default retention windows. Overridable via RetentionConfig; the values
// here are the product policy defaults.
const (
	// DefaultSoftDeleteRetention is how long soft-deleted switches and
	// messages stay recoverable before hard deletion.
	DefaultSoftDeleteRetention = 30 * 24 * time.Hour

	// DefaultCheckInRetention is how long check-in history is kept.
	DefaultCheckInRetention = 90 * 24 * time.Hour

	// DefaultAuditRetention is how long audit rows stay in Postgres before
	// moving to cold storage.
	DefaultAuditRetention = 90 * 24 * time.Hour

	// DefaultJobHistoryRetention is how long finished job runs are kept.
	DefaultJobHistoryRetention = 30 * 24 * time.Hour

	// DefaultAuditArchiveBatchSize is the number of audit rows per archive
	// object.
	DefaultAuditArchiveBatchSize = 500
)

// RetentionSwitchStore abstracts the switch purge. Satisfied by
// *db.SwitchRepository.
type RetentionSwitchStore interface {
	// PurgeSoftDeleted hard-deletes switches soft-deleted before cutoff.
	// Their messages go with them via ON DELETE CASCADE.
	PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionMessageStore abstracts the message purge. Satisfied by
// *db.MessageRepository.
type RetentionMessageStore interface {
	// PurgeSoftDeleted hard-deletes messages that were individually
	// soft-deleted (their switch still lives) before cutoff.
	PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckInPurger abstracts the check-in history purge. Satisfied by
// *db.CheckInRepository.
type CheckInPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditArchiveStore abstracts the audit trail operations the retention job
// needs. Satisfied by *db.AuditRepository.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.AuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	Append(ctx context.Context, entry *types.AuditEntry) error
}

// JobLockPurger abstracts the expired lock cleanup. Satisfied by
// *db.JobLockRepository.
type JobLockPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// JobHistoryPurger abstracts the job run cleanup. Satisfied by
// *db.JobHistoryRepository.
type JobHistoryPurger interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveUploader abstracts cold storage for archived audit rows.
// The key names the object: "audit/YYYY/MM/batch_{nanos}.jsonl.gz".
type ArchiveUploader interface {
	UploadArchive(ctx context.Context, key string, data []byte) error
}

// RetentionService is the daily retention cleanup. Every step is an
// age-filtered, idempotent delete, so re-running the job (or overlapping
// with a retried invocation) purges nothing extra.
//
// Audit rows are archived before deletion: fetch a batch, gzip it as JSONL,
// upload, then delete exactly the uploaded rows. A failed upload leaves the
// rows in place for the next run.
type RetentionService struct {
	switches   RetentionSwitchStore
	messages   RetentionMessageStore
	checkIns   CheckInPurger
	audit      AuditArchiveStore
	jobLocks   JobLockPurger
	jobHistory JobHistoryPurger
	archiver   ArchiveUploader // nil disables audit archival
	metrics    types.MetricPublisher
	logger     *slog.Logger

	softDeleteRetention time.Duration
	checkInRetention    time.Duration
	auditRetention      time.Duration
	jobHistoryRetention time.Duration
	auditBatchSize      int
}

// RetentionConfig holds the dependencies and windows for a RetentionService.
// Zero windows fall back to the package defaults.
type RetentionConfig struct {
	Switches   RetentionSwitchStore
	Messages   RetentionMessageStore
	CheckIns   CheckInPurger
	Audit      AuditArchiveStore
	JobLocks   JobLockPurger
	JobHistory JobHistoryPurger
	Archiver   ArchiveUploader // may be nil; audit archival is then skipped
	Metrics    types.MetricPublisher
	Logger     *slog.Logger

	SoftDeleteRetention time.Duration
	CheckInRetention    time.Duration
	AuditRetention      time.Duration
	JobHistoryRetention time.Duration
	AuditBatchSize      int
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(cfg RetentionConfig) *RetentionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &RetentionService{
		switches:            cfg.Switches,
		messages:            cfg.Messages,
		checkIns:            cfg.CheckIns,
		audit:               cfg.Audit,
		jobLocks:            cfg.JobLocks,
		jobHistory:          cfg.JobHistory,
		archiver:            cfg.Archiver,
		metrics:             cfg.Metrics,
		logger:              logger,
		softDeleteRetention: cfg.SoftDeleteRetention,
		checkInRetention:    cfg.CheckInRetention,
		auditRetention:      cfg.AuditRetention,
		jobHistoryRetention: cfg.JobHistoryRetention,
		auditBatchSize:      cfg.AuditBatchSize,
	}
	if s.softDeleteRetention <= 0 {
		s.softDeleteRetention = DefaultSoftDeleteRetention
	}
	if s.checkInRetention <= 0 {
		s.checkInRetention = DefaultCheckInRetention
	}
	if s.auditRetention <= 0 {
		s.auditRetention = DefaultAuditRetention
	}
	if s.jobHistoryRetention <= 0 {
		s.jobHistoryRetention = DefaultJobHistoryRetention
	}
	if s.auditBatchSize <= 0 {
		s.auditBatchSize = DefaultAuditArchiveBatchSize
	}
	return s
}

// Run executes one retention cycle at the given reference time and returns
// the total number of rows purged across all steps. A failed step is logged
// and the remaining steps still run; the collected step errors are joined
// into the returned error so the job run is recorded as failed.
func (s *RetentionService) Run(ctx context.Context, now time.Time) (int, error) {
	total := 0
	var stepErrs []error

	counts := map[string]int64{}

	step := func(entity string, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			s.logger.ErrorContext(ctx, "retention step failed",
				"entity", entity,
				"error", err,
			)
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", entity, err))
			return
		}
		counts[entity] = n
		total += int(n)
		if n > 0 {
			s.metrics.Count(ctx, types.MetricRetentionPurged, float64(n),
				map[string]string{types.DimEntity: entity})
		}
		s.logger.InfoContext(ctx, "retention step complete",
			"entity", entity,
			"purged", n,
		)
	}

	step("switches", func() (int64, error) {
		return s.switches.PurgeSoftDeleted(ctx, now.Add(-s.softDeleteRetention))
	})
	step("messages", func() (int64, error) {
		return s.messages.PurgeSoftDeleted(ctx, now.Add(-s.softDeleteRetention))
	})
	step("check_ins", func() (int64, error) {
		return s.checkIns.DeleteBefore(ctx, now.Add(-s.checkInRetention))
	})
	step("audit_log", func() (int64, error) {
		return s.archiveAuditRows(ctx, now)
	})
	step("job_runs", func() (int64, error) {
		return s.jobHistory.DeleteFinishedBefore(ctx, now.Add(-s.jobHistoryRetention))
	})
	step("job_locks", func() (int64, error) {
		return s.jobLocks.DeleteExpired(ctx, now)
	})

	s.appendPurgeAudit(ctx, now, counts)

	s.logger.InfoContext(ctx, "retention cleanup complete",
		"total_purged", total,
		"failed_steps", len(stepErrs),
	)

	return total, errors.Join(stepErrs...)
}

// archiveAuditRows moves audit rows older than the retention window to cold
// storage in batches, deleting each batch only after its upload succeeds.
// Returns the number of rows archived and deleted.
func (s *RetentionService) archiveAuditRows(ctx context.Context, now time.Time) (int64, error) {
	if s.archiver == nil {
		s.logger.WarnContext(ctx, "audit archiver not configured, skipping audit retention")
		return 0, nil
	}

	cutoff := now.Add(-s.auditRetention)
	var archived int64

	for {
		entries, err := s.audit.ListBefore(ctx, cutoff, s.auditBatchSize)
		if err != nil {
			return archived, fmt.Errorf("listing audit rows for archival: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		data, err := gzipJSONL(entries)
		if err != nil {
			return archived, fmt.Errorf("serializing audit archive: %w", err)
		}

		key := fmt.Sprintf("audit/%s/batch_%d.jsonl.gz",
			cutoff.Format("2006/01"), now.UnixNano())

		if err := s.archiver.UploadArchive(ctx, key, data); err != nil {
			return archived, fmt.Errorf("uploading audit archive %s: %w", key, err)
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := s.audit.DeleteByIDs(ctx, ids)
		if err != nil {
			return archived, fmt.Errorf("deleting archived audit rows: %w", err)
		}
		archived += deleted

		s.logger.InfoContext(ctx, "archived audit batch",
			"rows", deleted,
			"archive_key", key,
		)

		if len(entries) < s.auditBatchSize {
			break
		}
	}

	return archived, nil
}

// appendPurgeAudit records the cycle's per-entity counts in the audit
// trail. Best effort.
func (s *RetentionService) appendPurgeAudit(ctx context.Context, now time.Time, counts map[string]int64) {
	details, err := json.Marshal(counts)
	if err != nil {
		details = []byte("{}")
	}
	entry := &types.AuditEntry{
		EventType:  types.AuditRetentionPurge,
		EntityID:   "retention_cleanup",
		Actor:      "retention-job",
		Details:    details,
		OccurredAt: now,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to append retention audit entry",
			"error", err,
		)
	}
}

// gzipJSONL serializes audit entries as gzip-compressed newline-delimited
// JSON, one entry per line.
func gzipJSONL(entries []*types.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("marshaling audit entry %d: %w", e.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
