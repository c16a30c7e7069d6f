package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const lockPrefix = "secret-replication:lock:"

// ErrLockUnavailable is returned when lock acquisition gives up because
// another worker still holds at least one of the requested keys.
var ErrLockUnavailable = errors.New("lock keys unavailable")

// LockKey is one distributed lock claim. LockID is the fencing value
// written to Redis; IsOwner records whether this process holds the key.
type LockKey struct {
	Key     string
	LockID  uuid.UUID
	IsOwner bool
}

// CreateLockKeys builds namespaced lock keys with fresh lock IDs.
func CreateLockKeys(names []string) []*LockKey {
	keys := make([]*LockKey, len(names))
	for i := range names {
		keys[i] = &LockKey{
			Key:    lockPrefix + names[i],
			LockID: uuid.New(),
		}
	}
	return keys
}

// Lock attempts to claim every key with the given TTL. Each claim is a
// single SETNX, so racing workers can never both win a key. It returns
// false when any key is held by another owner; claims made before the
// conflict keep their IsOwner flag so the caller can release them.
func (c *Client) Lock(ctx context.Context, ttl time.Duration, keys []*LockKey) (bool, error) {
	for _, lk := range keys {
		claimed, err := c.rdb.SetNX(ctx, lk.Key, lk.LockID.String(), ttl).Result()
		if err != nil {
			return false, err
		}
		if claimed {
			lk.IsOwner = true
			continue
		}

		// Key exists. Ours from an earlier attempt, or someone else's.
		value, err := c.rdb.Get(ctx, lk.Key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between the claim and the read.
				return false, nil
			}
			return false, err
		}
		if value != lk.LockID.String() {
			return false, nil
		}
		lk.IsOwner = true
	}
	return true, nil
}

// Refresh reports whether all keys are still owned by this process and
// extends the TTL of those that are. Only a missing key or a foreign
// value drops IsOwner; on a transport error ownership is unknown, so the
// flag stays set and a later Unlock still attempts the release.
func (c *Client) Refresh(ctx context.Context, ttl time.Duration, keys []*LockKey) (bool, error) {
	owned := true
	var lastErr error
	for _, lk := range keys {
		value, err := c.rdb.GetEx(ctx, lk.Key, ttl).Result()
		if err != nil {
			owned = false
			if errors.Is(err, redis.Nil) {
				lk.IsOwner = false
				continue
			}
			lastErr = err
			continue
		}
		if value != lk.LockID.String() {
			lk.IsOwner = false
			owned = false
			continue
		}
		lk.IsOwner = true
	}
	return owned, lastErr
}

// Unlock releases the keys owned by this process. Keys held by others are
// left untouched.
func (c *Client) Unlock(ctx context.Context, keys []*LockKey) error {
	var lastErr error
	for _, lk := range keys {
		if !lk.IsOwner {
			continue
		}
		if err := c.rdb.Del(ctx, lk.Key).Err(); err != nil {
			lastErr = err
			continue
		}
		lk.IsOwner = false
	}
	return lastErr
}

// AcquireLocks claims every named key, retrying with Fibonacci backoff
// while another worker holds any of them. Partial claims are released
// between attempts. Gives up with ErrLockUnavailable.
func (c *Client) AcquireLocks(ctx context.Context, names []string, ttl time.Duration) ([]*LockKey, error) {
	keys := CreateLockKeys(names)
	b := retry.NewFibonacci(250 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		ok, err := c.Lock(ctx, ttl, keys)
		if err != nil {
			if unlockErr := c.Unlock(ctx, keys); unlockErr != nil {
				return retry.RetryableError(unlockErr)
			}
			return retry.RetryableError(err)
		}
		if !ok {
			// Drop partial claims before the next attempt.
			if err := c.Unlock(ctx, keys); err != nil {
				return retry.RetryableError(err)
			}
			return retry.RetryableError(ErrLockUnavailable)
		}
		return nil
	})
	if err != nil {
		_ = c.Unlock(ctx, keys)
		return nil, err
	}
	return keys, nil
}
