package notify

import (
	"sync"
	"time"
)

// Dedup suppresses repeats of the same alert within a time-to-live window.
// It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // alert key -> last sent
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an alert as a repeat if the same key
// was seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window. A key that is
// new or expired is recorded and false is returned. Expired keys are pruned
// on every call so the table stays bounded by the alert rate.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
