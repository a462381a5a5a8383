package webhook

import (
	"sync"
	"time"
)

// dedupCache remembers keys for a fixed TTL.
type dedupCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration, now func() time.Time) *dedupCache {
	return &dedupCache{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

// claim records key and reports whether it was new.
func (d *dedupCache) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	return true
}

// release forgets key so a retry of a failed delivery is processed.
func (d *dedupCache) release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}
