/**
 * Queue Consumer for the Alignment Verification Worker
 *
 * Consumes column alignment and document report tasks from Redis.
 * Uses Asynq for queue management; task payloads are JSON.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/errors"
	"github.com/zupu/alignworker/internal/processor"
)

// Task type names
const (
	TaskAlignColumn    = "align:column"
	TaskReportDocument = "report:document"
)

// AlignColumnPayload is the payload of an align:column task
type AlignColumnPayload struct {
	ColumnID   string `json:"columnId"`
	DocumentID string `json:"documentId,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// ReportDocumentPayload is the payload of a report:document task
type ReportDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor *processor.ColumnProcessor
	progress  *ProgressTracker
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL         string
	QueueName        string
	Concurrency      int
	Processor        *processor.ColumnProcessor
	Progress         *ProgressTracker
	AlignmentTimeout int64 // per-column timeout in milliseconds (default: 120000)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Client is used to enqueue report tasks once a document's last column
	// finishes.
	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payload=%s, error=%v",
					task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		progress:  cfg.Progress,
		config:    cfg,
	}

	mux.HandleFunc(TaskAlignColumn, consumer.handleAlignColumn)
	mux.HandleFunc(TaskReportDocument, consumer.handleReportDocument)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleAlignColumn verifies one column under a timeout context.
func (c *Consumer) handleAlignColumn(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload AlignColumnPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal align payload: %w", err)
	}
	if payload.ColumnID == "" {
		return fmt.Errorf("align task missing column ID")
	}

	log.Printf("[Column %s] Aligning (document=%s, force=%v)",
		payload.ColumnID, payload.DocumentID, payload.Force)

	timeout := 120 * time.Second
	if c.config.AlignmentTimeout > 0 {
		timeout = time.Duration(c.config.AlignmentTimeout) * time.Millisecond
	}
	alignCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := c.processor.ProcessColumn(alignCtx, payload.ColumnID, payload.Force)

	duration := time.Since(startTime)

	if err != nil {
		if alignCtx.Err() == context.DeadlineExceeded {
			timeoutErr := errors.NewAlignmentTimeoutError(payload.ColumnID, timeout, err)
			log.Printf("[Column %s] Alignment timed out after %v", payload.ColumnID, duration)
			c.trackFailure(ctx, payload)
			return fmt.Errorf("alignment timeout: %w", timeoutErr)
		}

		log.Printf("[Column %s] Alignment failed after %v: %v", payload.ColumnID, duration, err)
		c.trackFailure(ctx, payload)
		return fmt.Errorf("column alignment failed: %w", err)
	}

	log.Printf("[Column %s] Alignment finished in %v: status=%s, avg=%.4f, iterations=%d",
		payload.ColumnID, duration, outcome.Status, outcome.AvgSimilarity, outcome.Iterations)

	documentID := payload.DocumentID
	if documentID == "" {
		documentID = outcome.DocumentID
	}
	c.trackOutcome(ctx, documentID, outcome)

	return nil
}

// handleReportDocument aggregates a document's columns into a report.
func (c *Consumer) handleReportDocument(ctx context.Context, task *asynq.Task) error {
	var payload ReportDocumentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal report payload: %w", err)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("report task missing document ID")
	}

	report, err := c.processor.AggregateDocument(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("document aggregation failed: %w", err)
	}

	log.Printf("[Document %s] Report: decision=%s, avg=%.4f, columns=%d (failed=%d)",
		payload.DocumentID, report.Decision, report.AvgSimilarity,
		report.TotalColumns, report.FailedColumns)

	if c.progress != nil {
		if err := c.progress.ClearDocument(ctx, payload.DocumentID); err != nil {
			log.Printf("[Document %s] Warning: failed to clear progress: %v", payload.DocumentID, err)
		}
	}

	return nil
}

// trackOutcome records per-document progress and enqueues the report task
// when the last column finishes.
func (c *Consumer) trackOutcome(ctx context.Context, documentID string, outcome *processor.ColumnOutcome) {
	if c.progress == nil || documentID == "" {
		return
	}

	converged := outcome.Status == align.StatusConverged
	done, err := c.progress.RecordColumn(ctx, documentID, converged)
	if err != nil {
		log.Printf("[Document %s] Warning: failed to record progress: %v", documentID, err)
		return
	}
	if done {
		c.enqueueReport(documentID)
	}
}

func (c *Consumer) trackFailure(ctx context.Context, payload AlignColumnPayload) {
	if c.progress == nil || payload.DocumentID == "" {
		return
	}
	done, err := c.progress.RecordColumn(ctx, payload.DocumentID, false)
	if err != nil {
		log.Printf("[Document %s] Warning: failed to record progress: %v", payload.DocumentID, err)
		return
	}
	if done {
		c.enqueueReport(payload.DocumentID)
	}
}

func (c *Consumer) enqueueReport(documentID string) {
	payload, err := json.Marshal(ReportDocumentPayload{DocumentID: documentID})
	if err != nil {
		log.Printf("[Document %s] Warning: failed to marshal report payload: %v", documentID, err)
		return
	}
	task := asynq.NewTask(TaskReportDocument, payload)
	if _, err := c.client.Enqueue(task, asynq.Queue(c.config.QueueName)); err != nil {
		log.Printf("[Document %s] Warning: failed to enqueue report task: %v", documentID, err)
		return
	}
	log.Printf("[Document %s] Report task enqueued", documentID)
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"redisURL":    c.config.RedisURL,
	}
}
