package provider

import (
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// Recipient strings are parsed with libphonenumber on every send; the
// resulting JIDs are kept for a while since the same contacts get messaged
// repeatedly.

const recipientTTL = 30 * time.Minute

// put sweeps once the map reaches this size
const sweepThreshold = 1024

type jidEntry struct {
	val    types.JID
	expiry time.Time
}

type ttlCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]jidEntry
	now     func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: map[string]jidEntry{}, now: time.Now}
}

func (c *ttlCache) get(key string) (types.JID, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return types.JID{}, false
	}
	if !c.now().Before(e.expiry) {
		c.mu.Lock()
		// a concurrent put may have refreshed it
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return types.JID{}, false
	}
	if e.val.User != "" && e.val.Server != "" {
		return e.val, true
	}
	return types.JID{}, false
}

// sweepLocked drops every expired entry. c.mu must be held.
func (c *ttlCache) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiry) {
			delete(c.entries, k)
		}
	}
}

func (c *ttlCache) put(key string, v types.JID) {
	now := c.now()
	c.mu.Lock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked(now)
	}
	c.entries[key] = jidEntry{val: v, expiry: now.Add(c.ttl)}
	c.mu.Unlock()
}
