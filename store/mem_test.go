package store

import (
	"context"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemSetGetTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemAt(clock.Now)

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	ttl, exists, _ := m.TTL(ctx, "k")
	if !exists || ttl != time.Minute {
		t.Fatalf("TTL = %v, %v", ttl, exists)
	}

	clock.Advance(time.Minute + time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key should have expired")
	}
	if _, exists, _ := m.TTL(ctx, "k"); exists {
		t.Fatal("expired key should not report existing")
	}
}

func TestMemSetNoTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemAt(clock.Now)

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("unexpired key dropped")
	}
	ttl, exists, _ := m.TTL(ctx, "k")
	if !exists || ttl != 0 {
		t.Fatalf("no-TTL key should report 0, true; got %v, %v", ttl, exists)
	}
}

func TestMemExpirePersist(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemAt(clock.Now)

	if ok, _ := m.Expire(ctx, "missing", time.Minute); ok {
		t.Fatal("Expire on a missing key should report false")
	}

	_ = m.Set(ctx, "k", "v", 0)
	if ok, _ := m.Expire(ctx, "k", time.Minute); !ok {
		t.Fatal("Expire on a live key should report true")
	}
	if ok, _ := m.Persist(ctx, "k"); !ok {
		t.Fatal("Persist should clear the TTL")
	}
	clock.Advance(time.Hour)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("persisted key expired")
	}
	if ok, _ := m.Persist(ctx, "k"); ok {
		t.Fatal("Persist with no TTL should report false")
	}
}

func TestMemHashOps(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	if err := m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := m.HSet(ctx, "h", map[string]string{"b": "22", "c": "3"}); err != nil {
		t.Fatalf("HSet merge: %v", err)
	}

	if v, ok, _ := m.HGet(ctx, "h", "b"); !ok || v != "22" {
		t.Fatalf("HGet b = %q, %v", v, ok)
	}
	if _, ok, _ := m.HGet(ctx, "h", "zz"); ok {
		t.Fatal("HGet on a missing field should miss")
	}
	if n, _ := m.HLen(ctx, "h"); n != 3 {
		t.Fatalf("HLen = %d", n)
	}

	all, _ := m.HGetAll(ctx, "h")
	want := map[string]string{"a": "1", "b": "22", "c": "3"}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("HGetAll = %v", all)
	}

	if err := m.HDel(ctx, "h", "a", "c"); err != nil {
		t.Fatalf("HDel: %v", err)
	}
	if n, _ := m.HLen(ctx, "h"); n != 1 {
		t.Fatalf("HLen after delete = %d", n)
	}
}

func TestMemHScanSinglePage(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	_ = m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})

	fields, next, err := m.HScan(ctx, "h", 0, 1)
	if err != nil {
		t.Fatalf("HScan: %v", err)
	}
	if next != 0 || len(fields) != 2 {
		t.Fatalf("first page should carry everything: next=%d fields=%v", next, fields)
	}
	fields, next, _ = m.HScan(ctx, "h", 1, 1)
	if next != 0 || len(fields) != 0 {
		t.Fatalf("nonzero cursor should return an empty terminal page: %v", fields)
	}
}

func TestMemHIncrBy(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	if n, _ := m.HIncrBy(ctx, "h", "c", 1); n != 1 {
		t.Fatalf("first increment = %d", n)
	}
	if n, _ := m.HIncrBy(ctx, "h", "c", 1); n != 2 {
		t.Fatalf("second increment = %d", n)
	}
	if n, _ := m.HIncrBy(ctx, "h", "c", -3); n != -1 {
		t.Fatalf("decrement past zero = %d", n)
	}
}

func TestMemZSetRangeAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	_ = m.ZAdd(ctx, "z", "late", 30)
	_ = m.ZAdd(ctx, "z", "early", 10)
	_ = m.ZAdd(ctx, "z", "mid", 20)
	_ = m.ZAdd(ctx, "z", "pinned", math.MaxFloat64)

	got, _ := m.ZRangeByScore(ctx, "z", math.Inf(-1), 25, 0)
	if !reflect.DeepEqual(got, []string{"early", "mid"}) {
		t.Fatalf("range = %v", got)
	}

	got, _ = m.ZRangeByScore(ctx, "z", math.Inf(-1), math.Inf(1), 2)
	if !reflect.DeepEqual(got, []string{"early", "mid"}) {
		t.Fatalf("limited range = %v", got)
	}

	// Rescoring moves, not duplicates.
	_ = m.ZAdd(ctx, "z", "early", 40)
	got, _ = m.ZRangeByScore(ctx, "z", math.Inf(-1), 100, 0)
	if !reflect.DeepEqual(got, []string{"mid", "late", "early"}) {
		t.Fatalf("rescored range = %v", got)
	}

	_ = m.ZRem(ctx, "z", "mid", "late", "early", "pinned")
	got, _ = m.ZRangeByScore(ctx, "z", math.Inf(-1), math.Inf(1), 0)
	if len(got) != 0 {
		t.Fatalf("emptied set still returns members: %v", got)
	}
}

func TestMemDelClearsAllKeyspaces(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	_ = m.Set(ctx, "k", "v", time.Minute)
	_ = m.HSet(ctx, "k", map[string]string{"f": "1"})
	_ = m.ZAdd(ctx, "k", "m", 1)

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("string survived Del")
	}
	if n, _ := m.HLen(ctx, "k"); n != 0 {
		t.Fatal("hash survived Del")
	}
	got, _ := m.ZRangeByScore(ctx, "k", math.Inf(-1), math.Inf(1), 0)
	if len(got) != 0 {
		t.Fatal("zset survived Del")
	}
}
