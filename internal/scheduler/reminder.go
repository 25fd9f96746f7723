package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeline/internal/types"
)

// DefaultReminderThreshold is the fraction of the check-in interval that
// must have elapsed before a reminder goes out.
const DefaultReminderThreshold = 0.85

// reminderDedupTTL keeps the dedup key alive well past the daily bucket it
// names, so late scanner runs near midnight still collide with it.
const reminderDedupTTL = 48 * time.Hour

// reminderConcurrency bounds the parallel reminder sends.
const reminderConcurrency = 5

// ApproachingSwitchStore abstracts the switch query the reminder scan needs.
// Satisfied by *db.SwitchRepository.
type ApproachingSwitchStore interface {
	// FindApproachingDue returns active, non-deleted switches where the
	// elapsed fraction of the check-in interval is at least fraction and
	// the grace period has not yet expired.
	FindApproachingDue(ctx context.Context, now time.Time, fraction float64, limit int) ([]*types.Switch, error)
}

// OwnerDirectory resolves a switch owner to a contact record.
// Satisfied by *db.OwnerRepository.
type OwnerDirectory interface {
	GetContact(ctx context.Context, ownerID string) (*types.OwnerContact, error)
}

// ReminderService is the 6-hourly reminder scan. It finds switches
// approaching their check-in due date and emails the owner, at most once
// per switch per day.
//
// The scan never mutates switch state. Dedup lives in the cache: the first
// scanner to claim the day's key sends, everyone else skips. A cache outage
// is treated as not winning the key, so an unavailable cache suppresses
// reminders for that cycle rather than spamming owners. A claim whose send
// fails is released again, so the next cycle in the same day bucket retries.
type ReminderService struct {
	switches  ApproachingSwitchStore
	owners    OwnerDirectory
	cache     types.Cache
	sender    types.NotificationSender
	metrics   types.MetricPublisher
	logger    *slog.Logger
	threshold float64
	batchSize int
}

// ReminderConfig holds the dependencies for creating a ReminderService.
type ReminderConfig struct {
	Switches  ApproachingSwitchStore
	Owners    OwnerDirectory
	Cache     types.Cache
	Sender    types.NotificationSender
	Metrics   types.MetricPublisher
	Logger    *slog.Logger
	Threshold float64 // defaults to DefaultReminderThreshold
	BatchSize int     // defaults to DefaultScanBatchSize
}

// NewReminderService creates a new ReminderService.
func NewReminderService(cfg ReminderConfig) *ReminderService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultReminderThreshold
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}
	return &ReminderService{
		switches:  cfg.Switches,
		owners:    cfg.Owners,
		cache:     cfg.Cache,
		sender:    cfg.Sender,
		metrics:   cfg.Metrics,
		logger:    logger,
		threshold: threshold,
		batchSize: batchSize,
	}
}

// Run executes one reminder cycle at the given reference time and returns
// the number of reminders sent. Per-switch failures are logged and the
// batch continues.
func (r *ReminderService) Run(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = r.batchSize
	}

	candidates, err := r.switches.FindApproachingDue(ctx, now, r.threshold, limit)
	if err != nil {
		return 0, fmt.Errorf("finding switches approaching due: %w", err)
	}

	if len(candidates) == 0 {
		r.logger.InfoContext(ctx, "no switches approaching check-in due")
		return 0, nil
	}

	r.logger.InfoContext(ctx, "found switches approaching check-in due",
		"count", len(candidates),
		"threshold", r.threshold,
	)

	var sent, deduped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reminderConcurrency)

	for _, s := range candidates {
		s := s
		g.Go(func() error {
			switch did, err := r.remind(gctx, s, now); {
			case err != nil:
				r.logger.ErrorContext(gctx, "failed to send reminder",
					"switch_id", s.ID,
					"owner_id", s.OwnerID,
					"error", err,
				)
			case did:
				sent.Add(1)
			default:
				deduped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.Count(ctx, types.MetricRemindersSent, float64(sent.Load()), nil)
	if deduped.Load() > 0 {
		r.metrics.Count(ctx, types.MetricRemindersDeduped, float64(deduped.Load()), nil)
	}

	r.logger.InfoContext(ctx, "reminder scan complete",
		"candidates", len(candidates),
		"sent", sent.Load(),
		"deduped", deduped.Load(),
	)

	return int(sent.Load()), nil
}

// remind sends one owner reminder if this worker wins the day's dedup key.
// Returns (false, nil) when another worker (or an earlier run today)
// already claimed it.
func (r *ReminderService) remind(ctx context.Context, s *types.Switch, now time.Time) (bool, error) {
	key := reminderDedupKey(s.ID, now)

	won, err := r.cache.SetNX(ctx, key, "sent", reminderDedupTTL)
	if err != nil {
		return false, fmt.Errorf("claiming dedup key %s: %w", key, err)
	}
	if !won {
		r.logger.DebugContext(ctx, "reminder already sent today",
			"switch_id", s.ID,
			"dedup_key", key,
		)
		return false, nil
	}

	contact, err := r.owners.GetContact(ctx, s.OwnerID)
	if err != nil {
		r.releaseDedupKey(ctx, key)
		return false, fmt.Errorf("resolving owner contact: %w", err)
	}

	subject, body := composeReminder(s, contact)
	if _, err := r.sender.Send(ctx, contact.Email, subject, body, key); err != nil {
		r.releaseDedupKey(ctx, key)
		return false, fmt.Errorf("sending reminder email: %w", err)
	}

	r.logger.InfoContext(ctx, "reminder sent",
		"switch_id", s.ID,
		"owner_id", s.OwnerID,
		"next_check_in_due", s.NextCheckInDue.Format(time.RFC3339),
	)
	return true, nil
}

// releaseDedupKey frees a won dedup key whose reminder did not go out, so
// the next scan cycle can retry within the same day bucket. Best effort: if
// the delete fails the key runs out its TTL and that day's reminder is lost.
func (r *ReminderService) releaseDedupKey(ctx context.Context, key string) {
	if err := r.cache.Del(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "failed to release reminder dedup key",
			"dedup_key", key,
			"error", err,
		)
	}
}

// reminderDedupKey builds the daily dedup key for a switch. The day bucket
// uses the scan's reference time in UTC.
func reminderDedupKey(switchID string, now time.Time) string {
	return fmt.Sprintf("reminder:%s:%s", switchID, now.UTC().Format("2006-01-02"))
}

// composeReminder builds the owner-facing reminder email.
func composeReminder(s *types.Switch, contact *types.OwnerContact) (subject, body string) {
	subject = fmt.Sprintf("Reminder: check in on %q", s.Name)

	name := contact.DisplayName
	if name == "" {
		name = contact.Email
	}
	graceEnd := s.NextCheckInDue.Add(s.GracePeriod())

	body = fmt.Sprintf(
		"Hi %s,\n\n"+
			"Your switch %q is due for a check-in by %s.\n"+
			"If no check-in is recorded by %s, its messages will be released to your recipients.\n\n"+
			"Check in from your dashboard or by replying to this email.\n",
		name,
		s.Name,
		s.NextCheckInDue.Format(time.RFC1123),
		graceEnd.Format(time.RFC1123),
	)
	return subject, body
}
