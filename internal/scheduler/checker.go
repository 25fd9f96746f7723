package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeline/internal/lifecycle"
	"lifeline/internal/types"
)

// DefaultScanBatchSize caps how many overdue switches one scan invocation
// processes. Keeps Lambda executions bounded; anything beyond the cap is
// picked up by the next hourly run.
const DefaultScanBatchSize = 100

// enqueueConcurrency bounds the parallel message fan-out after triggers.
const enqueueConcurrency = 5

// TriggerSwitchStore abstracts the switch queries the checker needs.
// Satisfied by *db.SwitchRepository.
type TriggerSwitchStore interface {
	// FindDueForTrigger returns active, non-deleted switches whose grace
	// period has fully elapsed at now, oldest due first.
	FindDueForTrigger(ctx context.Context, now time.Time, limit int) ([]*types.Switch, error)

	// Update persists the switch with a compare-and-swap on Version.
	// Returns a version-conflict error if another worker got there first.
	Update(ctx context.Context, s *types.Switch) error
}

// UnsentMessageStore abstracts the message query for delivery fan-out.
// Satisfied by *db.MessageRepository.
type UnsentMessageStore interface {
	FindUnsentBySwitch(ctx context.Context, switchID string) ([]*types.Message, error)
}

// DeliveryEnqueuer abstracts the SQS publish for delivery jobs.
// Satisfied by *queue.DeliveryPublisher.
type DeliveryEnqueuer interface {
	PublishBatch(ctx context.Context, jobs []types.DeliveryJob) error
}

// AuditAppender abstracts the best-effort audit trail write.
// Satisfied by *db.AuditRepository.
type AuditAppender interface {
	Append(ctx context.Context, entry *types.AuditEntry) error
}

// CheckerService is the hourly check-switches scan. It finds switches whose
// grace period has elapsed, transitions them to triggered, and enqueues one
// delivery job per unsent message.
//
// Concurrent scanners are safe: the triggering write is a version CAS, so
// exactly one worker wins each switch. The loser logs and skips; the
// messages are enqueued only by the winner.
type CheckerService struct {
	switches  TriggerSwitchStore
	messages  UnsentMessageStore
	enqueuer  DeliveryEnqueuer
	audit     AuditAppender
	metrics   types.MetricPublisher
	logger    *slog.Logger
	batchSize int
}

// CheckerConfig holds the dependencies for creating a CheckerService.
type CheckerConfig struct {
	Switches  TriggerSwitchStore
	Messages  UnsentMessageStore
	Enqueuer  DeliveryEnqueuer
	Audit     AuditAppender
	Metrics   types.MetricPublisher
	Logger    *slog.Logger
	BatchSize int // defaults to DefaultScanBatchSize
}

// NewCheckerService creates a new CheckerService.
func NewCheckerService(cfg CheckerConfig) *CheckerService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}
	return &CheckerService{
		switches:  cfg.Switches,
		messages:  cfg.Messages,
		enqueuer:  cfg.Enqueuer,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run executes one scan cycle at the given reference time and returns the
// number of switches triggered.
//
// Per-switch failures never abort the batch:
//   - version conflict on the triggering write: another scanner won, skip.
//   - other write failure: error log, skip; the switch is still overdue and
//     the next run retries it.
//   - enqueue failure after a successful trigger: error log; the switch is
//     already triggered, so the job-runner CLI can re-fan-out its messages.
func (c *CheckerService) Run(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = c.batchSize
	}

	candidates, err := c.switches.FindDueForTrigger(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("finding switches due for trigger: %w", err)
	}

	c.metrics.Count(ctx, types.MetricSwitchesScanned, float64(len(candidates)), nil)

	if len(candidates) == 0 {
		c.logger.InfoContext(ctx, "no switches due for trigger")
		return 0, nil
	}

	c.logger.InfoContext(ctx, "found switches due for trigger",
		"count", len(candidates),
		"reference_time", now.Format(time.RFC3339),
	)

	var triggered []*types.Switch
	conflicts := 0

	for _, s := range candidates {
		if err := lifecycle.Trigger(s, now); err != nil {
			// The query already filtered to eligible switches, so this
			// only happens when the row changed between query and now.
			c.logger.WarnContext(ctx, "switch no longer eligible to trigger",
				"switch_id", s.ID,
				"status", string(s.Status),
				"error", err,
			)
			continue
		}

		if err := c.switches.Update(ctx, s); err != nil {
			if types.IsVersionConflict(err) {
				c.logger.DebugContext(ctx, "trigger lost version race, skipping",
					"switch_id", s.ID,
				)
				conflicts++
				continue
			}
			c.logger.ErrorContext(ctx, "failed to persist trigger",
				"switch_id", s.ID,
				"error", err,
			)
			continue
		}

		c.logger.InfoContext(ctx, "switch triggered",
			"switch_id", s.ID,
			"owner_id", s.OwnerID,
			"next_check_in_due", s.NextCheckInDue.Format(time.RFC3339),
		)
		c.appendTriggerAudit(ctx, s, now)
		triggered = append(triggered, s)
	}

	if conflicts > 0 {
		c.metrics.Count(ctx, types.MetricTriggerConflicts, float64(conflicts), nil)
	}
	c.metrics.Count(ctx, types.MetricSwitchesTriggered, float64(len(triggered)), nil)

	// Fan out delivery jobs for the switches this worker won. Bounded
	// concurrency; enqueue failures are logged per switch and never
	// propagate, since the trigger itself is already committed.
	var enqueued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueConcurrency)

	for _, s := range triggered {
		s := s
		g.Go(func() error {
			n, err := c.enqueueMessages(gctx, s, now)
			if err != nil {
				c.logger.ErrorContext(gctx, "failed to enqueue delivery jobs",
					"switch_id", s.ID,
					"error", err,
				)
				return nil
			}
			enqueued.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	c.metrics.Count(ctx, types.MetricJobsEnqueued, float64(enqueued.Load()), nil)

	c.logger.InfoContext(ctx, "check-switches scan complete",
		"scanned", len(candidates),
		"triggered", len(triggered),
		"conflicts", conflicts,
		"jobs_enqueued", enqueued.Load(),
	)

	return len(triggered), nil
}

// enqueueMessages loads the unsent messages of one triggered switch and
// publishes a delivery job per message. Returns the number of jobs handed
// to the publisher.
func (c *CheckerService) enqueueMessages(ctx context.Context, s *types.Switch, now time.Time) (int, error) {
	messages, err := c.messages.FindUnsentBySwitch(ctx, s.ID)
	if err != nil {
		return 0, fmt.Errorf("loading unsent messages for switch %s: %w", s.ID, err)
	}
	if len(messages) == 0 {
		c.logger.InfoContext(ctx, "triggered switch has no unsent messages",
			"switch_id", s.ID,
		)
		return 0, nil
	}

	jobs := make([]types.DeliveryJob, 0, len(messages))
	for _, m := range messages {
		jobs = append(jobs, types.DeliveryJob{
			MessageID:        m.ID,
			SwitchID:         m.SwitchID,
			RecipientEmail:   m.RecipientEmail,
			RecipientName:    m.RecipientName,
			Subject:          m.Subject,
			EncryptedContent: m.EncryptedContent,
			IdempotencyKey:   m.IdempotencyKey,
			TraceID:          types.GetTraceID(ctx),
			EnqueuedAt:       now,
		})
	}

	// The publisher bumps each job's Attempt to 1 before marshaling.
	if err := c.enqueuer.PublishBatch(ctx, jobs); err != nil {
		return 0, fmt.Errorf("publishing delivery jobs for switch %s: %w", s.ID, err)
	}
	return len(jobs), nil
}

// appendTriggerAudit records the trigger in the audit trail. Best effort:
// a failed audit write warns and moves on.
func (c *CheckerService) appendTriggerAudit(ctx context.Context, s *types.Switch, now time.Time) {
	details, err := json.Marshal(map[string]any{
		"owner_id":          s.OwnerID,
		"reason":            string(types.TriggerReasonOverdue),
		"next_check_in_due": s.NextCheckInDue.Format(time.RFC3339),
	})
	if err != nil {
		details = []byte("{}")
	}

	entry := &types.AuditEntry{
		EventType:  types.AuditSwitchTriggered,
		EntityID:   s.ID,
		Actor:      "check-switches-scanner",
		Details:    details,
		OccurredAt: now,
	}
	if err := c.audit.Append(ctx, entry); err != nil {
		c.logger.WarnContext(ctx, "failed to append trigger audit entry",
			"switch_id", s.ID,
			"error", err,
		)
	}
}
