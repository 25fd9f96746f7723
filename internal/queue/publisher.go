// Package queue provides SQS-based producers for dispatching delivery jobs
// to the delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"lifeline/internal/types"
)

// SQSSender abstracts the SQS operations used by the publisher for
// testability. Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// DeliveryPublisher wraps an SQS client to publish DeliveryJobs for initial
// dispatch or requeue after a transient failure.
//
// The key contract: Publish increments job.Attempt BEFORE serializing to
// JSON, so the downstream consumer always sees how many times the job has
// been handed to the queue. This envelope counter is independent of the
// message row's delivery_attempts, which only counts actual send attempts
// against the provider.
type DeliveryPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewDeliveryPublisher creates a new DeliveryPublisher targeting the
// specified SQS delivery queue.
func NewDeliveryPublisher(client SQSSender, queueURL string, logger types.Logger) *DeliveryPublisher {
	return &DeliveryPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish increments the job's Attempt counter, serializes it to JSON, and
// sends it to the delivery queue with the specified delay.
//
// The delay parameter controls the SQS DelaySeconds for requeue backoff.
// SQS enforces a maximum of 900 seconds (15 minutes); longer delays are
// clamped. Negative delays are treated as zero.
func (p *DeliveryPublisher) Publish(ctx context.Context, job types.DeliveryJob, delay time.Duration) error {
	// Increment Attempt BEFORE serialization so the consumer sees the
	// accurate queue hand-off count.
	job.Attempt++

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("delivery publisher: failed to marshal job: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: clampDelay(delay),
	}

	_, err = p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("delivery publisher: failed to send job to %s: %w", p.queueURL, err)
	}

	p.logger.Info("delivery job published",
		"message_id", job.MessageID,
		"switch_id", job.SwitchID,
		"attempt", job.Attempt,
		"delay_seconds", clampDelay(delay),
		"trace_id", job.TraceID,
	)

	return nil
}

// PublishBatch sends a set of delivery jobs in chunks of 10 per SQS API call
// (the SQS maximum), with no delay. Each job's Attempt counter is
// incremented before serialization, same as Publish. Must respect ctx.Done()
// to abort cleanly on Lambda timeout.
func (p *DeliveryPublisher) PublishBatch(ctx context.Context, jobs []types.DeliveryJob) error {
	const maxBatchSize = 10

	for i := 0; i < len(jobs); i += maxBatchSize {
		select {
		case <-ctx.Done():
			return fmt.Errorf("delivery publisher: context cancelled during batch send: %w", ctx.Err())
		default:
		}

		end := i + maxBatchSize
		if end > len(jobs) {
			end = len(jobs)
		}

		chunk := jobs[i:end]
		entries := make([]sqsTypes.SendMessageBatchRequestEntry, len(chunk))

		for j, job := range chunk {
			job.Attempt++
			body, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("delivery publisher: failed to marshal job %s: %w", job.MessageID, err)
			}
			entries[j] = sqsTypes.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("job-%d", i+j)),
				MessageBody: aws.String(string(body)),
			}
		}

		output, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("delivery publisher: SendMessageBatch failed: %w", err)
		}

		if len(output.Failed) > 0 {
			return fmt.Errorf("delivery publisher: batch had %d failures, first: code=%s, message=%s",
				len(output.Failed),
				aws.ToString(output.Failed[0].Code),
				aws.ToString(output.Failed[0].Message),
			)
		}
	}

	p.logger.Info("delivery job batch published",
		"queue_url", p.queueURL,
		"count", len(jobs),
	)

	return nil
}

func clampDelay(delay time.Duration) int32 {
	delaySec := int32(delay.Seconds())
	if delaySec > 900 {
		delaySec = 900
	}
	if delaySec < 0 {
		delaySec = 0
	}
	return delaySec
}
