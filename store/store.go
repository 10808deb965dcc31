// Package store abstracts the low-latency key-value store that holds both
// the cached payloads and the lease bookkeeping structures.
//
// The capability set is exactly what the lease protocol and the cache engine
// consume: string get/set, hash get/set/scan, sorted-set add/range-by-score/
// remove, key expiry control, and an atomic hash-field increment. Redis is
// the production implementation; Mem exists for tests and single-process use.
package store

import (
	"context"
	"time"
)

// Store is the fast-store client contract. Implementations must be safe for
// concurrent use. A miss is reported via the ok/exists return, never as an
// error; errors are reserved for transport or server failures.
type Store interface {
	// Strings.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Key lifetime. TTL reports whether the key exists and its remaining
	// lifetime (0 when the key has no expiry).
	TTL(ctx context.Context, key string) (ttl time.Duration, exists bool, err error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Persist(ctx context.Context, key string) (bool, error)

	// Hashes.
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HLen(ctx context.Context, key string) (int64, error)
	// HScan walks a hash incrementally. cursor 0 starts a scan; a returned
	// cursor of 0 ends it. count is a per-page hint.
	HScan(ctx context.Context, key string, cursor uint64, count int64) (fields map[string]string, next uint64, err error)
	// HIncrBy atomically adjusts a counter field and returns the new value.
	// This is the only serialization primitive the lease protocol relies on.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// Sorted sets.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRangeByScore returns up to limit members with min <= score <= max in
	// ascending score order. limit <= 0 means no bound.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
