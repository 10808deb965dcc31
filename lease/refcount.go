package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/mutabot/dynoris/logger"
)

// RefCounted is the reference-counted lease design. A per-key counter in the
// refs hash tracks outstanding readers; the atomic increment/decrement is the
// single serialization point of the whole protocol. While the count is
// positive the entry is pinned: no TTL on the payload and a maximal index
// score so a concurrent sweep cannot reclaim it. The record body and index
// score are updated non-atomically after the count change and may briefly
// disagree with the true count under heavy concurrency; that window is
// accepted, not hidden.
type RefCounted struct {
	base
}

var _ Store = (*RefCounted)(nil)

func NewRefCounted(cfg Config) (*RefCounted, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &RefCounted{base: b}, nil
}

func (s *RefCounted) AcquireOnRead(ctx context.Context, cacheKey string, rec Record) (bool, error) {
	now := s.now()

	n, err := s.fast.HIncrBy(ctx, s.refsK, cacheKey, 1)
	if err != nil {
		return false, err
	}

	if n == 1 {
		// First reader: create the record and pin the key against the sweep
		// before anything else can race on it.
		rec.LastRead = now
		rec.RefCount = 1
		if err := s.writeRecord(ctx, cacheKey, rec); err != nil {
			return false, err
		}
		if err := s.fast.ZAdd(ctx, s.indexK, cacheKey, pinScore); err != nil {
			return false, err
		}
		if _, err := s.fast.Persist(ctx, cacheKey); err != nil {
			return false, err
		}
		return false, nil
	}

	// Repeat reader: touch the record. The count stamped here trails the
	// counter if another reader lands in between; the counter stays exact.
	cur, err := s.readRecord(ctx, cacheKey)
	if err != nil {
		return true, err
	}
	if cur != nil {
		cur.LastRead = now
		cur.RefCount = n
		if err := s.writeRecord(ctx, cacheKey, *cur); err != nil {
			return true, err
		}
	}
	if _, err := s.fast.Persist(ctx, cacheKey); err != nil {
		return true, err
	}
	return true, nil
}

func (s *RefCounted) AcquireOnWrite(ctx context.Context, cacheKey string) (*Record, error) {
	now := s.now()

	if _, err := s.Purge(ctx, now); err != nil {
		return nil, err
	}

	rec, err := s.readRecord(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// No record. Benign when the counter is gone too (committed or
		// swept); a live counter without a record is a protocol violation.
		raw, ok, err := s.fast.HGet(ctx, s.refsK, cacheKey)
		if err != nil {
			return nil, err
		}
		if ok {
			if c, _ := strconv.ParseInt(raw, 10, 64); c > 0 {
				return nil, ErrInvalidState
			}
		}
		return nil, nil
	}

	n, err := s.fast.HIncrBy(ctx, s.refsK, cacheKey, -1)
	if err != nil {
		return nil, err
	}

	rec.LastWrite = now
	rec.RefCount = n
	if err := s.writeRecord(ctx, cacheKey, *rec); err != nil {
		return nil, err
	}

	if n <= 0 {
		// Last holder gone: unpin. Entry starts its TTL countdown and the
		// lease becomes sweep-eligible one cutoff from now.
		if _, err := s.fast.Expire(ctx, cacheKey, s.window); err != nil {
			return nil, err
		}
		if err := s.fast.ZAdd(ctx, s.indexK, cacheKey, Score(now)); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *RefCounted) Resolve(ctx context.Context, cacheKey string) (*Record, error) {
	return s.readRecord(ctx, cacheKey)
}

func (s *RefCounted) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := Score(now.Add(-2 * s.window))
	n, err := s.purge(ctx, cutoff, func(keys []string) error {
		for _, key := range keys {
			c, err := s.fast.HIncrBy(ctx, s.refsK, key, -1)
			if err != nil {
				return err
			}
			if c >= 0 {
				// A release raced past zero. Reclamation proceeds anyway;
				// the anomaly is worth a trace in the log.
				s.log.Warn("purging lease with non-negative count", logger.Fields{
					"cacheKey": key,
					"count":    c,
				})
			}
		}
		return s.fast.HDel(ctx, s.refsK, keys...)
	})
	if n > 0 {
		s.log.Debug("purged expired leases", logger.Fields{"count": n})
	}
	return n, err
}

// EntryTTL is 0: entries stay pinned until the last write arms the TTL.
func (s *RefCounted) EntryTTL() time.Duration { return 0 }
