// Package redis holds the coordination primitives the sync daemon and the
// gateway share: a leader lock so only one syncd instance pulls at a time, a
// rate limiter guarding remote lookups, and a small store of sync status.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// LeaderLock elects a single holder among competing instances via SETNX.
// Renewal goes through a Lua script so an instance can only extend a lock it
// still owns.
type LeaderLock struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLeaderLock creates a LeaderLock. instanceID must be unique per process.
func NewLeaderLock(client *redis.Client, key, instanceID string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// AcquireOrRenew returns true while this instance holds the lock.
func (l *LeaderLock) AcquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader lock SetNX: %w", err)
	}
	if ok {
		return true, nil
	}

	result, err := renewScript.Run(
		ctx, l.client,
		[]string{l.key},
		l.instanceID,
		l.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("leader lock renewal: %w", err)
	}
	return result == 1, nil
}

// Release drops the lock if this instance still owns it.
func (l *LeaderLock) Release(ctx context.Context) error {
	releaseScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("leader lock release: %w", err)
	}
	return nil
}
