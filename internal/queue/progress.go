/**
 * Document Progress Tracking
 *
 * Tracks how many columns of a document have been verified so the consumer
 * knows when to enqueue the document report task. Counters live in a Redis
 * hash per document:
 *
 *   alignment:progress:{documentId}
 *     total     - column count, set when the document is enqueued
 *     processed - columns finished (converged or failed)
 *     converged - columns that converged
 *
 * A document whose producer never set a total is reported on demand only.
 */

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressTTL = 24 * time.Hour

// ProgressTracker maintains per-document column counters in Redis
type ProgressTracker struct {
	client *redis.Client
}

// NewProgressTracker creates a progress tracker from a Redis URL
func NewProgressTracker(redisURL string) (*ProgressTracker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ProgressTracker{client: client}, nil
}

func progressKey(documentID string) string {
	return fmt.Sprintf("alignment:progress:%s", documentID)
}

// InitDocument records the expected column count for a document. Called by
// the producer when it enqueues the document's column tasks.
func (t *ProgressTracker) InitDocument(ctx context.Context, documentID string, totalColumns int) error {
	key := progressKey(documentID)

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, "total", totalColumns, "processed", 0, "converged", 0)
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to initialize progress for document %s: %w", documentID, err)
	}
	return nil
}

// RecordColumn increments the processed counter and reports whether the
// document is now complete. Retried tasks can over-count; completion fires
// on processed >= total so a retry after completion stays complete.
func (t *ProgressTracker) RecordColumn(ctx context.Context, documentID string, converged bool) (bool, error) {
	key := progressKey(documentID)

	pipe := t.client.TxPipeline()
	processedCmd := pipe.HIncrBy(ctx, key, "processed", 1)
	if converged {
		pipe.HIncrBy(ctx, key, "converged", 1)
	}
	totalCmd := pipe.HGet(ctx, key, "total")
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to record progress for document %s: %w", documentID, err)
	}

	total, err := totalCmd.Int64()
	if err != nil {
		// No total on record: the producer did not register this document,
		// so completion cannot be detected here.
		return false, nil
	}

	return total > 0 && processedCmd.Val() >= total, nil
}

// GetProgress returns the raw counters for a document
func (t *ProgressTracker) GetProgress(ctx context.Context, documentID string) (map[string]string, error) {
	fields, err := t.client.HGetAll(ctx, progressKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for document %s: %w", documentID, err)
	}
	return fields, nil
}

// ClearDocument removes a document's counters after its report is saved
func (t *ProgressTracker) ClearDocument(ctx context.Context, documentID string) error {
	if err := t.client.Del(ctx, progressKey(documentID)).Err(); err != nil {
		return fmt.Errorf("failed to clear progress for document %s: %w", documentID, err)
	}
	return nil
}

// Close closes the Redis connection
func (t *ProgressTracker) Close() error {
	return t.client.Close()
}
