package handlers

import (
	"sync"
	"time"
)

// SessionMap is a keyed in-progress marker with TTL eviction. The gateway
// uses it to debounce a user's actions on one raid: while a submitted
// event is still in flight, further clicks for the same (user, raid) are
// rejected instead of queued up. Entries expire on their own in case a
// caller never releases.
type SessionMap struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time

	now func() time.Time
}

func NewSessionMap(ttl time.Duration) *SessionMap {
	return &SessionMap{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TryAcquire marks the key in progress. Returns false while a live entry
// for the key exists.
func (m *SessionMap) TryAcquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return false
	}
	m.entries[key] = now.Add(m.ttl)
	return true
}

func (m *SessionMap) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Sweep drops expired entries; the gateway runs it periodically so
// abandoned sessions do not accumulate.
func (m *SessionMap) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *SessionMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
