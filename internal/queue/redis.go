package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"record-import-pipeline/internal/domain"
)

const keyPrefix = "import:queue:"

// RedisQueue implements Queue on Redis lists, one list per channel.
type RedisQueue struct {
	client *redis.Client

	// authToken is stamped into every published item. Workers drop items
	// that do not carry it, so a stray or replayed payload cannot trigger
	// record writes.
	authToken string

	popTimeout time.Duration
}

// NewRedisQueue creates a RedisQueue publishing with the given auth token.
func NewRedisQueue(client *redis.Client, authToken string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		authToken:  authToken,
		popTimeout: 5 * time.Second,
	}
}

func channelKey(channel string) string {
	return keyPrefix + channel
}

// Enqueue publishes one work item on a channel.
func (q *RedisQueue) Enqueue(ctx context.Context, channel string, item *domain.WorkItem) error {
	item.AuthToken = q.authToken

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	if err := q.client.LPush(ctx, channelKey(channel), payload).Err(); err != nil {
		return fmt.Errorf("enqueue on %s: %w", channel, err)
	}
	return nil
}

// Dequeue blocks until an item arrives on any of the given channels or the
// context is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context, channels []string) (*domain.WorkItem, string, error) {
	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = channelKey(ch)
	}

	for {
		res, err := q.client.BRPop(ctx, q.popTimeout, keys...).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", fmt.Errorf("dequeue: %w", err)
		}

		// BRPop returns [key, payload].
		channel := res[0][len(keyPrefix):]
		var item domain.WorkItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return nil, "", fmt.Errorf("unmarshal work item from %s: %w", channel, err)
		}
		return &item, channel, nil
	}
}

// Depth reports how many items are waiting on a channel.
func (q *RedisQueue) Depth(ctx context.Context, channel string) (int64, error) {
	depth, err := q.client.LLen(ctx, channelKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("depth of %s: %w", channel, err)
	}
	return depth, nil
}
