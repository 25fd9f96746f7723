// Package main is the entrypoint for the Switch Scanner Lambda function.
//
// The Switch Scanner acts as a scheduled-task multiplexer. EventBridge rules
// send JSON payloads indicating the TaskType, and the handler routes
// execution to the appropriate scheduler service: the hourly check-switches
// scan, the six-hourly reminder scan, or the daily retention cleanup.
// Consolidating the low-frequency scheduled work into one Lambda reduces
// cold starts and infrastructure sprawl.
//
// Handler flow:
//  1. Parse TaskPayload from EventBridge.
//  2. Acquire a distributed job lock to prevent concurrent execution.
//  3. Switch on TaskType and call the appropriate service method.
//  4. Record job history for operational visibility.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifeline/internal/cache"
	"lifeline/internal/config"
	"lifeline/internal/db"
	"lifeline/internal/delivery"
	"lifeline/internal/external"
	"lifeline/internal/queue"
	"lifeline/internal/scheduler"
	"lifeline/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies the level methods but With returns *slog.Logger,
// not types.Logger, so an adapter is necessary.
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

// Compile-time assertion that slogAdapter implements types.Logger.
var _ types.Logger = (*slogAdapter)(nil)

// ServiceRegistry holds the service implementations that the multiplexer can
// route to. Each field corresponds to one TaskType. Services are eagerly
// initialized during cold start and reused across invocations.
//
// Fields are interfaces to enable testing. In production, they are backed by
// concrete implementations from the scheduler package.
type ServiceRegistry struct {
	Checker   CheckerService
	Reminder  ReminderService
	Retention RetentionService
}

// CheckerService runs the check-switches scan. Satisfied by
// *scheduler.CheckerService.
type CheckerService interface {
	Run(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReminderService runs the reminder scan. Satisfied by
// *scheduler.ReminderService.
type ReminderService interface {
	Run(ctx context.Context, now time.Time, limit int) (int, error)
}

// RetentionService runs the daily retention cleanup. Satisfied by
// *scheduler.RetentionService.
type RetentionService interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status types.JobStatus, items int, err error) error
}

// Handler holds the dependencies for the switch scanner Lambda handler.
type Handler struct {
	Services   ServiceRegistry
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	LockTTL    time.Duration
	Logger     *slog.Logger
}

// Handle processes a TaskPayload from EventBridge, routing to the
// appropriate service method based on the TaskType.
//
//  1. Parse payload and determine reference time.
//  2. Acquire distributed lock: "task_type:timestamp_hour".
//  3. Record job start in job_runs.
//  4. Switch on TaskType and call the service method.
//  5. Record job completion with status and item count.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TaskPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Step 1: Determine reference time.
	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "switch scanner handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"limit", payload.Limit,
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in task payload")
	}

	// Step 2: Acquire distributed lock.
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, h.lockTTL())
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	logger.InfoContext(ctx, "job lock acquired",
		"lock_id", lockID,
	)

	// Step 3: Record job start in history.
	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: proceed with execution even if history tracking fails.
		// jobID=0 signals that Finish should be skipped.
		jobID = 0
	}

	// Step 4: Route to the appropriate service.
	items, execErr := h.dispatch(ctx, payload, now)

	// Step 5: Record job completion.
	status := types.JobStatusSucceeded
	if execErr != nil {
		status = types.JobStatusFailed
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)

	return result, nil
}

// dispatch routes a TaskType to the appropriate service method.
// Returns the number of items processed and any error.
func (h *Handler) dispatch(ctx context.Context, payload scheduler.TaskPayload, now time.Time) (int, error) {
	switch payload.Task {
	case scheduler.TaskCheckSwitches:
		return h.Services.Checker.Run(ctx, now, payload.Limit)

	case scheduler.TaskReminderScan:
		return h.Services.Reminder.Run(ctx, now, payload.Limit)

	case scheduler.TaskRetentionCleanup:
		return h.Services.Retention.Run(ctx, now)

	default:
		return 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func (h *Handler) lockTTL() time.Duration {
	if h.LockTTL > 0 {
		return h.LockTTL
	}
	return 15 * time.Minute
}

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Switch Scanner Lambda initializing (cold start)")

	// Load configuration. In non-local environments, secrets like
	// DATABASE_URL are stored in SSM Parameter Store and referenced via
	// _SSM_PARAM suffix variables, resolved here before envconfig runs.
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	typedLogger := &slogAdapter{logger: logger}

	// Load AWS SDK configuration.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	// Initialize database connection pool with the configured tuning.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Initialize the reminder dedup cache.
	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Initialize AWS clients.
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	// Initialize repositories.
	switchRepo := db.NewSwitchRepository(pool)
	messageRepo := db.NewMessageRepository(pool)
	auditRepo := db.NewAuditRepository(pool)
	checkinRepo := db.NewCheckInRepository(pool)
	ownerRepo := db.NewOwnerRepository(pool)
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	// Initialize shared collaborators.
	publisher := queue.NewDeliveryPublisher(sqsClient, cfg.AWS.DeliveryQueueURL, typedLogger)
	metrics := delivery.NewCloudWatchMetrics(cwClient, typedLogger)
	smtpSender := external.NewSMTPSender(external.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, typedLogger)

	// Audit archival is optional: without a bucket, the retention job skips
	// the audit step rather than deleting unarchived rows.
	var archiver scheduler.ArchiveUploader
	if cfg.AWS.ArchiveBucket != "" {
		archiver = external.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.AWS.ArchiveBucket, typedLogger)
	} else {
		logger.Warn("ARCHIVE_BUCKET not set, audit retention will be skipped")
	}

	// Initialize the scheduler services.
	checker := scheduler.NewCheckerService(scheduler.CheckerConfig{
		Switches:  switchRepo,
		Messages:  messageRepo,
		Enqueuer:  publisher,
		Audit:     auditRepo,
		Metrics:   metrics,
		Logger:    logger,
		BatchSize: cfg.Monitor.ScanBatchSize,
	})

	reminder := scheduler.NewReminderService(scheduler.ReminderConfig{
		Switches:  switchRepo,
		Owners:    ownerRepo,
		Cache:     redisCache,
		Sender:    smtpSender,
		Metrics:   metrics,
		Logger:    logger,
		Threshold: cfg.Monitor.ReminderThreshold,
		BatchSize: cfg.Monitor.ScanBatchSize,
	})

	retention := scheduler.NewRetentionService(scheduler.RetentionConfig{
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
	})

	// Generate a unique worker ID for this Lambda instance.
	// Used for distributed lock ownership tracking.
	workerID := uuid.New().String()

	handler := &Handler{
		Services: ServiceRegistry{
			Checker:   checker,
			Reminder:  reminder,
			Retention: retention,
		},
		JobLock:    jobLockRepo,
		JobHistory: jobHistoryRepo,
		WorkerID:   workerID,
		LockTTL:    cfg.Monitor.LockTTL,
		Logger:     logger,
	}

	logger.Info("Switch Scanner Lambda initialized",
		"worker_id", workerID,
		"scan_batch_size", cfg.Monitor.ScanBatchSize,
		"reminder_threshold", cfg.Monitor.ReminderThreshold,
		"archive_bucket", cfg.AWS.ArchiveBucket,
	)

	// Local mode: read a JSON TaskPayload from stdin instead of starting the
	// Lambda runtime. This enables local integration testing without the RIE.
	// Usage: echo '{"task":"check_switches"}' | go run cmd/switch-scanner/main.go
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading task payload from stdin")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(raw) == 0 {
			logger.Error("No input received on stdin")
			os.Exit(1)
		}
		var payload scheduler.TaskPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Error("Failed to parse stdin as task payload", "error", err)
			os.Exit(1)
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Handler execution completed", "result", result)
		return
	}

	lambda.Start(handler.Handle)
}
