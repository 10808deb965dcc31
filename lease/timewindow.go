package lease

import (
	"context"
	"time"

	"github.com/mutabot/dynoris/logger"
)

// TimeWindow is the window-based lease design. No explicit reader count is
// kept: every AcquireOnRead re-arms a fixed expiry window on both the index
// score and the cache entry's TTL, and a lease whose writer never shows up
// simply ages out of the window. Cheap and adequate when overlapping readers
// on one key are rare.
//
// Sweep cutoff sits a full window behind the entry TTL (cutoff =
// now - 2*window, scores armed at now + window), so a lease record always
// outlives its cache entry: a live entry with a missing record is a protocol
// violation, never an artifact of the sweep racing the store's own TTL.
// An abandoned lease is reclaimed within three windows of its last read.
type TimeWindow struct {
	base
}

var _ Store = (*TimeWindow)(nil)

func NewTimeWindow(cfg Config) (*TimeWindow, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &TimeWindow{base: b}, nil
}

func (s *TimeWindow) AcquireOnRead(ctx context.Context, cacheKey string, rec Record) (bool, error) {
	now := s.now()

	_, existed, err := s.fast.HGet(ctx, s.recordK, cacheKey)
	if err != nil {
		return false, err
	}

	rec.LastRead = now
	rec.RefCount = 0
	if err := s.writeRecord(ctx, cacheKey, rec); err != nil {
		return existed, err
	}
	if err := s.fast.ZAdd(ctx, s.indexK, cacheKey, Score(now.Add(s.window))); err != nil {
		return existed, err
	}
	// Extends the entry's lifetime on repeat reads. A no-op before the
	// read-through has written the entry; the engine arms the initial TTL.
	if _, err := s.fast.Expire(ctx, cacheKey, s.window); err != nil {
		return existed, err
	}
	return existed, nil
}

func (s *TimeWindow) AcquireOnWrite(ctx context.Context, cacheKey string) (*Record, error) {
	now := s.now()

	if _, err := s.Purge(ctx, now); err != nil {
		return nil, err
	}

	// Probe the entry itself. Gone means the lease ran out before the
	// commit arrived: skip, don't fail.
	_, exists, err := s.fast.TTL(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rec, err := s.readRecord(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrInvalidState
	}

	rec.LastWrite = now
	if err := s.writeRecord(ctx, cacheKey, *rec); err != nil {
		return nil, err
	}
	if err := s.fast.ZAdd(ctx, s.indexK, cacheKey, Score(now.Add(s.window))); err != nil {
		return nil, err
	}
	if _, err := s.fast.Expire(ctx, cacheKey, s.window); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *TimeWindow) Resolve(ctx context.Context, cacheKey string) (*Record, error) {
	return s.readRecord(ctx, cacheKey)
}

func (s *TimeWindow) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := Score(now.Add(-2 * s.window))
	n, err := s.purge(ctx, cutoff, func([]string) error { return nil })
	if n > 0 {
		s.log.Debug("purged expired leases", logger.Fields{"count": n})
	}
	return n, err
}

func (s *TimeWindow) EntryTTL() time.Duration { return s.window }
