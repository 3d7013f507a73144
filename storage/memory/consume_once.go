package memory

import (
	"errors"
	"sync"
	"time"
)

var (
	errNotFound = errors.New("not found")
	errExpired  = errors.New("expired")
)

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// ConsumeOnce is a TTL-bounded map whose entries can be read exactly once.
//
// Consume removes the entry under the lock before checking its age, so two
// concurrent callers for the same key never both receive the value, and an
// entry older than the TTL is rejected even if no sweep has run yet.
type ConsumeOnce[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewConsumeOnce creates a container whose entries expire after ttl.
func NewConsumeOnce[V any](ttl time.Duration, now func() time.Time) *ConsumeOnce[V] {
	if now == nil {
		now = time.Now
	}
	return &ConsumeOnce[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     now,
	}
}

// Put stores value under key, replacing any previous entry.
func (c *ConsumeOnce[V]) Put(key string, value V, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, createdAt: createdAt}
}

// Consume pops the entry for key. It returns errNotFound when the key is
// absent and errExpired when the entry was older than the TTL; in both cases
// nothing remains stored under key.
func (c *ConsumeOnce[V]) Consume(key string) (V, error) {
	var zero V

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return zero, errNotFound
	}
	if c.expired(e.createdAt, c.now()) {
		return zero, errExpired
	}
	return e.value, nil
}

// Sweep removes every entry older than the TTL and returns how many were dropped.
func (c *ConsumeOnce[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.expired(e.createdAt, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *ConsumeOnce[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured lifetime of an entry.
func (c *ConsumeOnce[V]) TTL() time.Duration {
	return c.ttl
}

func (c *ConsumeOnce[V]) expired(createdAt, now time.Time) bool {
	return now.Sub(createdAt) > c.ttl
}
