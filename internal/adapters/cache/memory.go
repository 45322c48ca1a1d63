package cache

import (
	"context"
	"sync"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

// MemoryDedup is the single-process fallback when no Redis is configured.
type MemoryDedup struct {
	mu      sync.Mutex
	entries map[string]time.Time
	nowFn   func() time.Time
}

var _ ports.NotificationDedup = (*MemoryDedup)(nil)

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{
		entries: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (d *MemoryDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiresAt, ok := d.entries[key]
	return ok && d.nowFn().Before(expiresAt), nil
}

func (d *MemoryDedup) Remember(_ context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	d.sweep(now)
	d.entries[key] = now.Add(ttl)
	return nil
}

func (d *MemoryDedup) sweep(now time.Time) {
	for key, expiresAt := range d.entries {
		if !now.Before(expiresAt) {
			delete(d.entries, key)
		}
	}
}
