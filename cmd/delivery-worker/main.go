// Package main is the entrypoint for the Delivery Worker Lambda function.
//
// The Delivery Worker consumes delivery jobs from the Delivery SQS Queue and
// processes them through the delivery manager: idempotent precondition check,
// SMTP send, sent-mark persistence, audit trail, and retry re-publishing for
// transient failures. It implements the SQS Lambda handler pattern where each
// invocation receives a batch of SQS messages.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load configuration (SSM secret resolution in non-local environments).
//  3. Load AWS SDK configuration, initialize SQS and CloudWatch clients.
//  4. Initialize database pool, message and audit repositories.
//  5. Initialize SMTP sender and the delivery publisher for retry re-queuing.
//  6. Initialize the delivery Manager.
//  7. Register handler and call lambda.Start.
//
// Handler flow per SQS message in the batch:
//  1. Unmarshal DeliveryJob from the message body.
//  2. Manager.ProcessJob settles or retries the job.
//  3. nil return ACKs the message; an error puts it in batchItemFailures
//     so SQS redelivers it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifeline/internal/config"
	"lifeline/internal/db"
	"lifeline/internal/delivery"
	"lifeline/internal/external"
	"lifeline/internal/queue"
	"lifeline/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies the level methods but With returns *slog.Logger, not
// types.Logger, so an adapter is necessary.
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

// JobProcessor settles one delivery job. Satisfied by *delivery.Manager.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job types.DeliveryJob) error
}

// Handler holds the dependencies for the delivery worker Lambda handler.
type Handler struct {
	manager JobProcessor
	metrics types.MetricPublisher
	logger  types.Logger
}

// Handle processes an SQS event containing one or more delivery jobs. Each
// job is processed independently. Lambda SQS integration uses partial batch
// responses: messages that fail processing are returned in batchItemFailures
// so SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord handles a single SQS message through the delivery pipeline.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var job types.DeliveryJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		h.logger.Error("failed to unmarshal delivery job",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure, do not retry (return nil to ACK).
		return nil
	}

	// Record queue lag for observability.
	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sentAt, err := parseMillisTimestamp(sentTimestamp); err == nil {
			lag := time.Since(sentAt)
			h.metrics.Count(ctx, types.MetricQueueLagMs, float64(lag.Milliseconds()), nil)
		}
	}

	return h.manager.ProcessJob(ctx, job)
}

// parseMillisTimestamp parses a millisecond-epoch string into a time.Time.
// Used for the SQS SentTimestamp attribute to calculate queue lag.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Delivery Worker Lambda initializing (cold start)")

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

	// Initialize database connection pool.
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

	// Initialize AWS clients.
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	// Initialize repositories.
	messageRepo := db.NewMessageRepository(pool)
	auditRepo := db.NewAuditRepository(pool)

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

	manager := delivery.NewManager(
		messageRepo,
		smtpSender,
		publisher,
		auditRepo,
		metrics,
		types.RealClock{},
		typedLogger,
		cfg.Delivery.RetryDelay,
	)

	handler := &Handler{
		manager: manager,
		metrics: metrics,
		logger:  typedLogger,
	}

	logger.Info("Delivery Worker Lambda initialized",
		"delivery_queue", cfg.AWS.DeliveryQueueURL,
		"retry_delay", cfg.Delivery.RetryDelay.String(),
		"smtp_host", cfg.SMTP.Host,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. This enables local integration testing without the RIE.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run cmd/delivery-worker/main.go
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("No input received on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("Failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		response, err := handler.Handle(ctx, sqsEvent)
		if err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			logger.Warn("Handler reported partial failures",
				"failed_count", len(response.BatchItemFailures),
			)
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
		}
		logger.Info("Handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		return
	}

	lambda.Start(handler.Handle)
}
