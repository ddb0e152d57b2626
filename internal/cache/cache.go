// Package cache holds pre-rendered record snapshots in Redis so read paths
// do not touch PostgreSQL for hot records.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "cache:record:"

// RecordCache stores rendered record snapshots keyed by record ID.
type RecordCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecordCache creates a RecordCache. A zero ttl means entries never expire
// and rely on rewarm jobs to refresh them.
func NewRecordCache(client *redis.Client, ttl time.Duration) *RecordCache {
	return &RecordCache{client: client, ttl: ttl}
}

// SetRecord stores a record snapshot.
func (c *RecordCache) SetRecord(ctx context.Context, recordID string, payload []byte) error {
	if err := c.client.Set(ctx, recordKeyPrefix+recordID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache record %s: %w", recordID, err)
	}
	return nil
}

// GetRecord retrieves a cached snapshot, or nil when absent.
func (c *RecordCache) GetRecord(ctx context.Context, recordID string) ([]byte, error) {
	payload, err := c.client.Get(ctx, recordKeyPrefix+recordID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached record %s: %w", recordID, err)
	}
	return payload, nil
}

// Invalidate drops a record's cached snapshot.
func (c *RecordCache) Invalidate(ctx context.Context, recordID string) error {
	if err := c.client.Del(ctx, recordKeyPrefix+recordID).Err(); err != nil {
		return fmt.Errorf("invalidate record %s: %w", recordID, err)
	}
	return nil
}
