// Package review hands drafts that failed validation to humans: a Redis list the review
// tool drains, plus an optional SNS alert.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/pipeline/validator"
)

var ErrQueueEmpty = errors.New("REVIEW_QUEUE_EMPTY")

// Item is one draft awaiting a human decision.
type Item struct {
	ID                string                 `json:"id"`
	CaseID            string                 `json:"caseId"`
	PrimaryState      string                 `json:"primaryState"`
	Body              string                 `json:"body"`
	DeterministicBody string                 `json:"deterministicBody"`
	ContentType       string                 `json:"contentType"`
	Diagnostics       []validator.Diagnostic `json:"diagnostics"`
	BlockedUpdates    map[string]string      `json:"blockedUpdates,omitempty"`
	EnqueuedAt        time.Time              `json:"enqueuedAt"`
}

type Queue struct {
	rdb    redis.Cmdable
	key    string
	logger logger.Logger
	now    func() time.Time
}

func NewQueue(rdb redis.Cmdable, key string, log logger.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		key:    key,
		logger: log.WithFields(map[string]interface{}{"component": "review-queue", "queue": key}),
		now:    time.Now,
	}
}

// Enqueue assigns an id and timestamp when missing and pushes the item. Items are
// consumed oldest first.
func (q *Queue) Enqueue(ctx context.Context, item Item) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now().UTC()
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return item, fmt.Errorf("encode review item: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return item, fmt.Errorf("push review item: %w", err)
	}

	q.logger.Info("draft queued for review", map[string]interface{}{
		"caseId":      item.CaseID,
		"reviewId":    item.ID,
		"diagnostics": len(item.Diagnostics),
	})
	return item, nil
}

// Next pops the oldest item. It returns ErrQueueEmpty when nothing is waiting.
func (q *Queue) Next(ctx context.Context) (Item, error) {
	var item Item
	raw, err := q.rdb.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return item, ErrQueueEmpty
	}
	if err != nil {
		return item, fmt.Errorf("pop review item: %w", err)
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, fmt.Errorf("decode review item: %w", err)
	}
	return item, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
