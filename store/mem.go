package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Mem is an in-process Store. It backs tests and single-node deployments
// where an external Redis is not worth running. Expiry is enforced lazily on
// access, so a key may linger past its TTL until the next touch.
type Mem struct {
	mu   sync.Mutex
	now  func() time.Time
	str  map[string]string
	hash map[string]map[string]string
	zset map[string]map[string]float64
	exp  map[string]time.Time
}

var _ Store = (*Mem)(nil)

func NewMem() *Mem {
	return NewMemAt(time.Now)
}

// NewMemAt builds a Mem with an injected clock. Tests use this to drive
// expiry deterministically.
func NewMemAt(now func() time.Time) *Mem {
	return &Mem{
		now:  now,
		str:  make(map[string]string),
		hash: make(map[string]map[string]string),
		zset: make(map[string]map[string]float64),
		exp:  make(map[string]time.Time),
	}
}

// dropExpired removes key if its TTL is in the past. Caller holds mu.
func (m *Mem) dropExpired(key string) {
	if e, ok := m.exp[key]; ok && m.now().After(e) {
		m.deleteKey(key)
	}
}

// deleteKey removes key from every keyspace. Caller holds mu.
func (m *Mem) deleteKey(key string) {
	delete(m.str, key)
	delete(m.hash, key)
	delete(m.zset, key)
	delete(m.exp, key)
}

// exists reports whether key is live in any keyspace. Caller holds mu.
func (m *Mem) exists(key string) bool {
	if _, ok := m.str[key]; ok {
		return true
	}
	if h, ok := m.hash[key]; ok && len(h) > 0 {
		return true
	}
	if z, ok := m.zset[key]; ok && len(z) > 0 {
		return true
	}
	return false
}

func (m *Mem) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	v, ok := m.str[key]
	return v, ok, nil
}

func (m *Mem) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.str[key] = value
	if ttl > 0 {
		m.exp[key] = m.now().Add(ttl)
	} else {
		delete(m.exp, key)
	}
	return nil
}

func (m *Mem) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.deleteKey(k)
	}
	return nil
}

func (m *Mem) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	if !m.exists(key) {
		return 0, false, nil
	}
	e, ok := m.exp[key]
	if !ok {
		return 0, true, nil
	}
	return e.Sub(m.now()), true, nil
}

func (m *Mem) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	if !m.exists(key) {
		return false, nil
	}
	m.exp[key] = m.now().Add(ttl)
	return true, nil
}

func (m *Mem) Persist(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	if _, ok := m.exp[key]; !ok {
		return false, nil
	}
	delete(m.exp, key)
	return true, nil
}

func (m *Mem) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	v, ok := m.hash[key][field]
	return v, ok, nil
}

func (m *Mem) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	h, ok := m.hash[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hash[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (m *Mem) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	out := make(map[string]string, len(m.hash[key]))
	for f, v := range m.hash[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Mem) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash[key]
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(m.hash, key)
	}
	return nil
}

func (m *Mem) HLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	return int64(len(m.hash[key])), nil
}

// HScan returns the whole hash in one page; Mem has no cursor pressure.
func (m *Mem) HScan(ctx context.Context, key string, cursor uint64, _ int64) (map[string]string, uint64, error) {
	if cursor != 0 {
		return map[string]string{}, 0, nil
	}
	fields, err := m.HGetAll(ctx, key)
	return fields, 0, err
}

func (m *Mem) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	h, ok := m.hash[key]
	if !ok {
		h = make(map[string]string, 1)
		m.hash[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Mem) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	z, ok := m.zset[key]
	if !ok {
		z = make(map[string]float64, 1)
		m.zset[key] = z
	}
	z[member] = score
	return nil
}

func (m *Mem) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(key)
	type entry struct {
		member string
		score  float64
	}
	matched := make([]entry, 0, len(m.zset[key]))
	for member, score := range m.zset[key] {
		if score >= min && score <= max {
			matched = append(matched, entry{member, score})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score < matched[j].score
		}
		return matched[i].member < matched[j].member
	})
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	out := make([]string, len(matched))
	for i, e := range matched {
		out[i] = e.member
	}
	return out, nil
}

func (m *Mem) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zset[key]
	for _, mb := range members {
		delete(z, mb)
	}
	if len(z) == 0 {
		delete(m.zset, key)
	}
	return nil
}

func (m *Mem) Close(context.Context) error { return nil }
