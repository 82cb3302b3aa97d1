// Package cache is a small concurrent TTL store used in front of the
// relational stores (tokens, sites, site properties and profile data).
package cache

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultTTL mirrors the profile cache period advertised to client sites
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value   V
	expires time.Time
}

// Store is a concurrent map with per entry expiration. A zero TTL keeps
// entries until they are deleted.
type Store[K comparable, V any] struct {
	items *xsync.MapOf[K, entry[V]]
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Store
type Option[K comparable, V any] func(*Store[K, V])

// WithClock overrides time.Now, used by tests
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(s *Store[K, V]) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store with the given TTL
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Store[K, V] {
	s := &Store[K, V]{
		items: xsync.NewMapOf[K, entry[V]](),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the cached value if present and fresh
func (s *Store[K, V]) Get(key K) (V, bool) {
	var zero V
	e, ok := s.items.Load(key)
	if !ok {
		return zero, false
	}

	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.items.Delete(key)
		return zero, false
	}

	return e.value, true
}

// Set stores value under key
func (s *Store[K, V]) Set(key K, value V) {
	e := entry[V]{value: value}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.items.Store(key, e)
}

// Delete removes key
func (s *Store[K, V]) Delete(key K) {
	s.items.Delete(key)
}

// DeleteFunc removes every key for which match returns true
func (s *Store[K, V]) DeleteFunc(match func(key K) bool) {
	s.items.Range(func(key K, _ entry[V]) bool {
		if match(key) {
			s.items.Delete(key)
		}
		return true
	})
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (s *Store[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	s.Set(key, v)
	return v, nil
}

// Purge drops expired entries
func (s *Store[K, V]) Purge() int {
	now := s.now()
	removed := 0
	s.items.Range(func(key K, e entry[V]) bool {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			s.items.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Clear drops every entry
func (s *Store[K, V]) Clear() {
	s.items.Clear()
}

// Len returns the number of entries, fresh or not
func (s *Store[K, V]) Len() int {
	return s.items.Size()
}
