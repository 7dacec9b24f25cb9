package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-local expiring map. Expiry is checked on read and a
// janitor goroutine sweeps stale entries so abandoned keys don't pile up.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	stop  chan struct{}
	once  sync.Once
}

// New builds a cache whose janitor runs every sweep interval.
func New(sweep time.Duration) *Cache {
	c := &Cache{
		items: make(map[string]entry),
		stop:  make(chan struct{}),
	}
	go c.janitor(sweep)
	return c
}

// Set stores v under k for ttl. A non-positive ttl stores forever.
func (c *Cache) Set(k string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[k] = entry{value: v, expiresAt: exp}
	c.mu.Unlock()
}

// Get returns the live value for k, if any.
func (c *Cache) Get(k string) (any, bool) {
	c.mu.RLock()
	e, ok := c.items[k]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Delete drops k.
func (c *Cache) Delete(k string) {
	c.mu.Lock()
	delete(c.items, k)
	c.mu.Unlock()
}

// GetOrSet returns the live value for k, or stores and returns the result
// of fill. fill runs under the lock, so keep it cheap.
func (c *Cache) GetOrSet(k string, ttl time.Duration, fill func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[k]; ok && !e.expired(time.Now()) {
		return e.value
	}
	v := fill()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.items[k] = entry{value: v, expiresAt: exp}
	return v
}

// Len counts live entries.
func (c *Cache) Len() int {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the janitor.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (c *Cache) janitor(sweep time.Duration) {
	if sweep <= 0 {
		sweep = time.Minute
	}
	t := time.NewTicker(sweep)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.mu.Lock()
			for k, e := range c.items {
				if e.expired(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
