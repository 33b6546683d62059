package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"assessment-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RecordQueue hands terminal session records to the record worker through a Redis list.
type RecordQueue struct {
	client *redis.Client
	queue  string
}

func NewRecordQueue(client *redis.Client, queue string) *RecordQueue {
	if queue == "" {
		queue = DefaultRecordQueue
	}
	return &RecordQueue{client: client, queue: queue}
}

// Name is the list key records are pushed to.
func (q *RecordQueue) Name() string {
	return q.queue
}

func (q *RecordQueue) SaveRecord(ctx context.Context, record domain.SessionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := q.client.RPush(ctx, q.queue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}
	return nil
}
