// Package main implements the job-runner CLI tool for invoking scheduled
// tasks directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It constructs a scheduler.TaskPayload and invokes
// the same lock-and-dispatch flow as the switch-scanner handler.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=retention_cleanup
//	go run ./cmd/tools/job-runner --task=retention_cleanup --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=check_switches
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --history
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv). In --dry-run mode, it prints the constructed JSON payload
// without executing. When DATABASE_URL is available, it acquires the
// distributed job lock, records job history, and dispatches to the
// appropriate scheduler service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"lifeline/internal/db"
	"lifeline/internal/delivery"
	"lifeline/internal/scheduler"
	"lifeline/internal/types"
)

// taskDescriptions is maintained in sync with the constants in
// internal/scheduler/types.go and the dispatch table in
// cmd/switch-scanner/main.go.
var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskCheckSwitches:    "Scan for overdue switches and enqueue message delivery",
	scheduler.TaskReminderScan:     "Send check-in reminders for switches approaching their deadline",
	scheduler.TaskRetentionCleanup: "Purge expired rows per the retention windows",
}

// tasksRequiringExternalServices lists tasks that cannot be executed locally
// because they depend on external services that are not available in the
// CLI context.
var tasksRequiringExternalServices = map[scheduler.TaskType]string{
	scheduler.TaskCheckSwitches: "SQS delivery publisher",
	scheduler.TaskReminderScan:  "SMTP relay + Redis dedup cache",
}

// Operational constants matching cmd/switch-scanner/main.go.
// Duplicated here because cmd/switch-scanner is a main package and cannot
// be imported.
const (
	lockTTL        = 15 * time.Minute
	historyDefault = 20
)

func main() {
	taskFlag := flag.String("task", "", "Task type to execute (e.g., retention_cleanup)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	limitFlag := flag.Int("limit", 0, "Override the scan batch size (0 uses the service default)")
	listFlag := flag.Bool("list", false, "List all available task types and exit")
	historyFlag := flag.Bool("history", false, "Print recent job runs and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke scheduled tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available task types.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	// Initialize structured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	// Set up cancellation context with signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *historyFlag {
		if err := printRecentRuns(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	taskType := scheduler.TaskType(*taskFlag)
	if _, ok := taskDescriptions[taskType]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task type %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}

	// Parse optional reference time.
	var refTime *time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T02:00:00Z\n")
			os.Exit(1)
		}
		refTime = &t
	}

	payload := scheduler.TaskPayload{
		Task:          taskType,
		ReferenceTime: refTime,
		Limit:         *limitFlag,
	}

	// If dry-run, print the JSON payload and exit.
	if *dryRunFlag {
		printPayload(payload)
		return
	}

	// Check if the task requires external services that are unavailable locally.
	if reason, ok := tasksRequiringExternalServices[taskType]; ok {
		fmt.Fprintf(os.Stderr, "error: task %q requires %s which is not available in CLI context\n", taskType, reason)
		fmt.Fprintf(os.Stderr, "  use --dry-run to generate the JSON payload for manual invocation\n")
		os.Exit(1)
	}

	result, err := executeTask(ctx, payload, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(payload.Task),
		"result", result,
	)
}

// executeTask wires up the database and service dependencies, then invokes
// the switch-scanner handler logic directly (bypassing Lambda).
//
// This mirrors the handler flow:
//  1. Connect to the database.
//  2. Determine reference time.
//  3. Acquire distributed job lock.
//  4. Record job history start.
//  5. Dispatch to the appropriate service.
//  6. Record job history completion.
func executeTask(ctx context.Context, payload scheduler.TaskPayload, logger *slog.Logger) (string, error) {
	pool, err := connectPool(ctx)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	logger.Info("database connection established")

	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	// Generate a unique worker ID for lock ownership.
	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	// Acquire distributed lock (same pattern as the switch-scanner handler).
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := jobLockRepo.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	logger.Info("job lock acquired", "lock_id", lockID)

	// Record job start.
	jobID, err := jobHistoryRepo.Start(ctx, taskStr)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	items, execErr := dispatch(ctx, payload, now, pool, logger)

	// Record job completion.
	status := types.JobStatusSucceeded
	if execErr != nil {
		status = types.JobStatusFailed
	}
	if jobID != 0 {
		if finishErr := jobHistoryRepo.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

// dispatch routes a TaskType to the appropriate scheduler service. Tasks
// requiring external services are blocked at the CLI argument validation
// stage before reaching this function.
func dispatch(ctx context.Context, payload scheduler.TaskPayload, now time.Time, pool *pgxpool.Pool, logger *slog.Logger) (int, error) {
	switch payload.Task {
	case scheduler.TaskRetentionCleanup:
		retention := scheduler.NewRetentionService(scheduler.RetentionConfig{
			Switches:   db.NewSwitchRepository(pool),
			Messages:   db.NewMessageRepository(pool),
			CheckIns:   db.NewCheckInRepository(pool),
			Audit:      db.NewAuditRepository(pool),
			JobLocks:   db.NewJobLockRepository(pool),
			JobHistory: db.NewJobHistoryRepository(pool),
			Archiver:   nil, // audit archival is skipped in CLI context
			Metrics:    delivery.NoopMetrics{},
			Logger:     logger,
		})
		return retention.Run(ctx, now)

	default:
		// Externally-dependent tasks are caught in main() before reaching
		// here.
		return 0, fmt.Errorf("task %q cannot be dispatched in CLI context", payload.Task)
	}
}

// printRecentRuns lists the most recent job runs for operational inspection.
func printRecentRuns(ctx context.Context) error {
	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	runs, err := db.NewJobHistoryRepository(pool).ListRecent(ctx, historyDefault)
	if err != nil {
		return fmt.Errorf("listing recent job runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("no job runs recorded")
		return nil
	}

	fmt.Printf("%-6s %-20s %-20s %-10s %-7s %s\n", "ID", "TASK", "STARTED", "STATUS", "ITEMS", "ERROR")
	for _, run := range runs {
		fmt.Printf("%-6d %-20s %-20s %-10s %-7d %s\n",
			run.ID,
			run.JobType,
			run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			run.Status,
			run.ItemsCount,
			run.Error,
		)
	}
	return nil
}

func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// printAvailableTasks prints all valid task types and their descriptions to
// stderr, in scheduler declaration order.
func printAvailableTasks() {
	fmt.Fprintf(os.Stderr, "Available task types:\n\n")

	tasks := scheduler.AllTasks()

	maxLen := 0
	for _, t := range tasks {
		if len(string(t)) > maxLen {
			maxLen = len(string(t))
		}
	}

	for _, t := range tasks {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, string(t), taskDescriptions[t])
	}
	fmt.Fprintln(os.Stderr)
}

// printPayload marshals the TaskPayload to pretty-printed JSON and writes it
// to stdout for inspection or piping.
func printPayload(payload scheduler.TaskPayload) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	if desc, ok := taskDescriptions[payload.Task]; ok {
		fmt.Fprintf(os.Stderr, "\nTask: %s\nDescription: %s\n", payload.Task, desc)
		if payload.ReferenceTime != nil {
			fmt.Fprintf(os.Stderr, "Reference time: %s\n", payload.ReferenceTime.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "Reference time: (current UTC time will be used)\n")
		}
	}
}
