// Package main implements the local-scheduler daemon, a development stand-in
// for the EventBridge rules that drive the switch-scanner Lambda.
//
// In production, EventBridge invokes the Lambda on fixed schedules. Locally
// there is no EventBridge, so this daemon runs the same cron cadence in
// process: it wires the full service stack (Postgres, LocalStack SQS, Redis,
// SMTP) and executes each task through the same lock-and-dispatch flow the
// Lambda handler uses. The distributed job lock still applies, so running
// multiple instances is safe.
//
// Usage:
//
//	go run ./cmd/tools/local-scheduler
//	go run ./cmd/tools/local-scheduler --fast
//	go run ./cmd/tools/local-scheduler --check-spec="*/5 * * * *"
//
// Requires APP_ENV=local and the docker-compose stack (Postgres, LocalStack,
// Redis, Mailpit) to be up. AWS_ENDPOINT_URL pointed at LocalStack is picked
// up by the SDK automatically.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"lifeline/internal/cache"
	"lifeline/internal/config"
	"lifeline/internal/db"
	"lifeline/internal/delivery"
	"lifeline/internal/external"
	"lifeline/internal/queue"
	"lifeline/internal/scheduler"
	"lifeline/internal/types"
)

// Production cadence, mirrored from the EventBridge rules.
const (
	defaultCheckSpec     = "0 * * * *"   // hourly, on the hour
	defaultReminderSpec  = "0 */6 * * *" // every six hours
	defaultRetentionSpec = "30 2 * * *"  // daily at 02:30 UTC

	// Accelerated cadence for watching the pipeline during development.
	fastCheckSpec     = "@every 1m"
	fastReminderSpec  = "@every 5m"
	fastRetentionSpec = "@every 15m"

	lockTTL = 15 * time.Minute
)

type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// taskRunner executes scheduled tasks through the same lock-and-dispatch
// flow as the switch-scanner Lambda handler.
type taskRunner struct {
	checker    *scheduler.CheckerService
	reminder   *scheduler.ReminderService
	retention  *scheduler.RetentionService
	jobLock    *db.JobLockRepository
	jobHistory *db.JobHistoryRepository
	workerID   string
	logger     *slog.Logger
}

func (r *taskRunner) run(ctx context.Context, task scheduler.TaskType) {
	now := time.Now().UTC()
	taskStr := string(task)
	logger := r.logger.With("task", taskStr)

	lockID := fmt.Sprintf("%s:%s", task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := r.jobLock.Acquire(ctx, lockID, r.workerID, lockTTL)
	if err != nil {
		logger.Error("failed to acquire job lock", "lock_id", lockID, "error", err)
		return
	}
	if !acquired {
		logger.Info("lock held by another worker, skipping", "lock_id", lockID)
		return
	}

	jobID, err := r.jobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	var items int
	var execErr error
	switch task {
	case scheduler.TaskCheckSwitches:
		items, execErr = r.checker.Run(ctx, now, 0)
	case scheduler.TaskReminderScan:
		items, execErr = r.reminder.Run(ctx, now, 0)
	case scheduler.TaskRetentionCleanup:
		items, execErr = r.retention.Run(ctx, now)
	default:
		execErr = fmt.Errorf("unknown task type: %q", task)
	}

	status := types.JobStatusSucceeded
	if execErr != nil {
		status = types.JobStatusFailed
	}
	if jobID != 0 {
		if finishErr := r.jobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		logger.Error("task failed", "error", execErr, "items_before_error", items)
		return
	}
	logger.Info("task complete", "items", items)
}

func main() {
	checkSpec := flag.String("check-spec", defaultCheckSpec, "Cron spec for the check_switches scan")
	reminderSpec := flag.String("reminder-spec", defaultReminderSpec, "Cron spec for the reminder_scan")
	retentionSpec := flag.String("retention-spec", defaultRetentionSpec, "Cron spec for the retention_cleanup")
	fast := flag.Bool("fast", false, "Run all tasks on an accelerated development cadence")
	flag.Parse()

	if *fast {
		*checkSpec = fastCheckSpec
		*reminderSpec = fastReminderSpec
		*retentionSpec = fastRetentionSpec
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Environment != "local" {
		logger.Error("local-scheduler requires APP_ENV=local", "environment", cfg.Environment)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	typedLogger := &slogAdapter{logger: logger}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	switchRepo := db.NewSwitchRepository(pool)
	messageRepo := db.NewMessageRepository(pool)
	auditRepo := db.NewAuditRepository(pool)
	checkinRepo := db.NewCheckInRepository(pool)
	ownerRepo := db.NewOwnerRepository(pool)
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	publisher := queue.NewDeliveryPublisher(sqsClient, cfg.AWS.DeliveryQueueURL, typedLogger)
	metrics := delivery.NewCloudWatchMetrics(cwClient, typedLogger)
	smtpSender := external.NewSMTPSender(external.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, typedLogger)

	var archiver scheduler.ArchiveUploader
	if cfg.AWS.ArchiveBucket != "" {
		archiver = external.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.AWS.ArchiveBucket, typedLogger)
	}

	runner := &taskRunner{
		checker: scheduler.NewCheckerService(scheduler.CheckerConfig{
			Switches:  switchRepo,
			Messages:  messageRepo,
			Enqueuer:  publisher,
			Audit:     auditRepo,
			Metrics:   metrics,
			Logger:    logger,
			BatchSize: cfg.Monitor.ScanBatchSize,
		}),
		reminder: scheduler.NewReminderService(scheduler.ReminderConfig{
			Switches:  switchRepo,
			Owners:    ownerRepo,
			Cache:     redisCache,
			Sender:    smtpSender,
			Metrics:   metrics,
			Logger:    logger,
			Threshold: cfg.Monitor.ReminderThreshold,
			BatchSize: cfg.Monitor.ScanBatchSize,
		}),
		retention: scheduler.NewRetentionService(scheduler.RetentionConfig{
			Switches:   switchRepo,
			Messages:   messageRepo,
			CheckIns:   checkinRepo,
			Audit:      auditRepo,
			JobLocks:   jobLockRepo,
			JobHistory: jobHistoryRepo,
			Archiver:   archiver,
			Metrics:    metrics,
			Logger:     logger,

			SoftDeleteRetention: cfg.Retention.SoftDelete,
			CheckInRetention:    cfg.Retention.CheckIns,
			AuditRetention:      cfg.Retention.Audit,
			JobHistoryRetention: cfg.Retention.JobHistory,
			AuditBatchSize:      cfg.Retention.AuditBatchSize,
		}),
		jobLock:    jobLockRepo,
		jobHistory: jobHistoryRepo,
		workerID:   fmt.Sprintf("local-scheduler-%s", uuid.New().String()),
		logger:     logger,
	}

	c := cron.New()
	schedules := []struct {
		spec string
		task scheduler.TaskType
	}{
		{*checkSpec, scheduler.TaskCheckSwitches},
		{*reminderSpec, scheduler.TaskReminderScan},
		{*retentionSpec, scheduler.TaskRetentionCleanup},
	}
	for _, s := range schedules {
		task := s.task
		if _, err := c.AddFunc(s.spec, func() { runner.run(ctx, task) }); err != nil {
			logger.Error("invalid cron spec", "spec", s.spec, "task", string(task), "error", err)
			os.Exit(1)
		}
		logger.Info("scheduled task", "task", string(task), "spec", s.spec)
	}

	c.Start()
	logger.Info("local scheduler running", "worker_id", runner.workerID)

	<-ctx.Done()
	logger.Info("shutting down, waiting for running jobs")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("local scheduler stopped")
}
