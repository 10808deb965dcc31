// Package lease implements the service-record subsystem: a reference-counted,
// time-bounded checkout protocol for cache keys built entirely from fast-store
// primitives. No distributed locks are taken; the only serialization point is
// the store's atomic hash-field increment.
//
// Two designs are provided. TimeWindow trades accounting precision for
// simplicity: every read re-arms a fixed expiry window and abandoned leases
// fall out of the window. RefCounted tracks overlapping readers exactly with
// a per-key counter and pins entries while any reader holds them. A
// deployment picks one; the cache engine is agnostic.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/mutabot/dynoris/codec"
	"github.com/mutabot/dynoris/logger"
	"github.com/mutabot/dynoris/store"
)

// Kind selects the commit strategy for a cached entry.
type Kind string

const (
	// KindString is a single item serialized as one string value.
	KindString Kind = "string"
	// KindHash is a query result set, one hash member per backing-store row.
	KindHash Kind = "hash"
	// KindHashDocument is one backing-store row's nested sub-document,
	// one hash member per field.
	KindHashDocument Kind = "hashdoc"
)

// KeyComponent is one (attribute name, attribute value) pair of a
// backing-store key.
type KeyComponent struct {
	Name  string `json:"name" msgpack:"name"`
	Value string `json:"value" msgpack:"value"`
}

// Record is the lease record kept per active cache key. It describes where
// the cached data came from and tracks checkout bookkeeping. The lease store
// owns records exclusively; callers only see copies.
type Record struct {
	Kind      Kind           `json:"kind" msgpack:"kind"`
	Table     string         `json:"table" msgpack:"table"`
	StoreKey  []KeyComponent `json:"storeKey" msgpack:"storeKey"`
	MemberKey string         `json:"memberKey,omitempty" msgpack:"memberKey,omitempty"`
	LastRead  time.Time      `json:"lastRead" msgpack:"lastRead"`
	LastWrite time.Time      `json:"lastWrite" msgpack:"lastWrite"`
	// RefCount is the number of outstanding readers. Only the RefCounted
	// design maintains it; TimeWindow leaves it at zero.
	RefCount int64 `json:"refCount,omitempty" msgpack:"refCount,omitempty"`
}

// ErrInvalidState reports a protocol invariant violation: the cache entry is
// live but its lease record is missing. This is never the benign
// "already committed or expired" case, which surfaces as a nil record.
var ErrInvalidState = errors.New("lease: record missing for live cache entry")

// Store is the checkout contract consumed by the cache engine.
type Store interface {
	// AcquireOnRead registers (or extends) a lease for cacheKey before a
	// read-through. existed reports that a live lease was already present,
	// letting the caller skip the backing-store read.
	AcquireOnRead(ctx context.Context, cacheKey string, rec Record) (existed bool, err error)

	// AcquireOnWrite resolves the lease for a commit. A nil record with nil
	// error means the lease is gone (already committed or expired) and the
	// commit must be skipped, not failed. ErrInvalidState is returned when
	// the entry is live but the record is absent. In the RefCounted design
	// the returned record carries the post-decrement count; the caller
	// performs the backing-store write only when it has reached zero.
	AcquireOnWrite(ctx context.Context, cacheKey string) (*Record, error)

	// Resolve looks the lease up without sweeping or re-arming anything.
	Resolve(ctx context.Context, cacheKey string) (*Record, error)

	// Purge reclaims leases whose expiry score is below the cutoff, in
	// batches, until a batch comes back empty. Returns the number reclaimed.
	// AcquireOnWrite piggybacks it; there is no separate scheduler.
	Purge(ctx context.Context, now time.Time) (int, error)

	// EntryTTL is the lifetime the engine should arm on cache entries it
	// writes: the expiry window for TimeWindow, 0 (pinned) for RefCounted.
	EntryTTL() time.Duration
}

const purgeBatch = 64

// Config configures either lease store design.
type Config struct {
	Store store.Store
	// Window is the lease expiry window. 0 means one minute.
	Window time.Duration
	// Codec serializes records into the record hash. nil means codec.JSON.
	Codec codec.Codec[Record]
	// Logger receives sweep and anomaly logs. nil means logger.Nop.
	Logger logger.Logger
	// KeyPrefix namespaces the bookkeeping keys. "" means "dyno:lease".
	KeyPrefix string
	// Now is the clock; tests inject a fake. nil means time.Now.
	Now func() time.Time
}

const defaultWindow = time.Minute

// base carries the plumbing shared by both designs.
type base struct {
	fast    store.Store
	enc     codec.Codec[Record]
	log     logger.Logger
	window  time.Duration
	now     func() time.Time
	indexK  string // sorted set: cache key -> expiry score
	recordK string // hash: cache key -> serialized record
	refsK   string // hash: cache key -> reference counter (RefCounted only)
}

func newBase(cfg Config) (base, error) {
	if cfg.Store == nil {
		return base{}, errors.New("lease: store is required")
	}
	b := base{
		fast:   cfg.Store,
		enc:    cfg.Codec,
		log:    cfg.Logger,
		window: cfg.Window,
		now:    cfg.Now,
	}
	if b.enc == nil {
		b.enc = codec.JSON[Record]{}
	}
	if b.log == nil {
		b.log = logger.Nop{}
	}
	if b.window <= 0 {
		b.window = defaultWindow
	}
	if b.now == nil {
		b.now = time.Now
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "dyno:lease"
	}
	b.indexK = prefix + ":index"
	b.recordK = prefix + ":records"
	b.refsK = prefix + ":refs"
	return b, nil
}

// readRecord fetches and decodes the record for cacheKey. A decode failure is
// surfaced; a miss is (nil, nil).
func (b *base) readRecord(ctx context.Context, cacheKey string) (*Record, error) {
	raw, ok, err := b.fast.HGet(ctx, b.recordK, cacheKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	rec, err := b.enc.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *base) writeRecord(ctx context.Context, cacheKey string, rec Record) error {
	enc, err := b.enc.Encode(rec)
	if err != nil {
		return err
	}
	return b.fast.HSet(ctx, b.recordK, map[string]string{cacheKey: string(enc)})
}

// purge pops expired index entries in batches and hands each batch to
// reclaim until a batch comes back empty.
func (b *base) purge(ctx context.Context, cutoff float64, reclaim func(keys []string) error) (int, error) {
	total := 0
	for {
		keys, err := b.fast.ZRangeByScore(ctx, b.indexK, negInf, cutoff, purgeBatch)
		if err != nil {
			return total, err
		}
		if len(keys) == 0 {
			return total, nil
		}
		if err := reclaim(keys); err != nil {
			return total, err
		}
		if err := b.fast.ZRem(ctx, b.indexK, keys...); err != nil {
			return total, err
		}
		if err := b.fast.HDel(ctx, b.recordK, keys...); err != nil {
			return total, err
		}
		total += len(keys)
	}
}
