package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const markerPrefix = "secret-replication:success:"

// SuccessKey names the idempotency marker for one (job, import) pair.
func SuccessKey(jobID, importID string) string {
	return markerPrefix + jobID + ":" + importID
}

// SetMarker writes an idempotency marker with the given TTL
func (c *Client) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, "1", ttl).Err()
}

// HasMarker reports whether an idempotency marker is still present
func (c *Client) HasMarker(ctx context.Context, key string) (bool, error) {
	_, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
