package commandline

import (
	"sync"
	"time"
)

// Prober reports the current availability of a command.
type Prober interface {
	Availability(name string) Availability
}

// RefreshPolicy controls how long a probed availability is trusted. A zero TTL never
// refreshes: the first probe wins for the life of the cache.
type RefreshPolicy struct {
	TTL time.Duration
}

type cacheEntry struct {
	probedAt     time.Time
	availability Availability
}

// AvailabilityCache memoises command availability per name. Concurrent probes of the
// same name may race and the last write wins.
type AvailabilityCache struct {
	prober  Prober
	now     func() time.Time
	entries map[string]cacheEntry
	policy  RefreshPolicy
	mu      sync.RWMutex
}

// NewAvailabilityCache creates an empty cache in front of prober.
func NewAvailabilityCache(prober Prober, policy RefreshPolicy) *AvailabilityCache {
	return &AvailabilityCache{
		prober:  prober,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		policy:  policy,
		mu:      sync.RWMutex{},
	}
}

// IsAvailable reports whether the named command can run.
func (cache *AvailabilityCache) IsAvailable(name string) bool {
	return cache.Lookup(name).Available
}

// Lookup returns the cached availability, probing when absent or expired.
func (cache *AvailabilityCache) Lookup(name string) Availability {
	cache.mu.RLock()
	entry, ok := cache.entries[name]
	cache.mu.RUnlock()

	if ok && !cache.expired(entry) {
		return entry.availability
	}

	availability := cache.prober.Availability(name)

	cache.mu.Lock()
	cache.entries[name] = cacheEntry{probedAt: cache.now(), availability: availability}
	cache.mu.Unlock()

	return availability
}

// Invalidate drops the cached entry for name.
func (cache *AvailabilityCache) Invalidate(name string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	delete(cache.entries, name)
}

func (cache *AvailabilityCache) expired(entry cacheEntry) bool {
	if cache.policy.TTL <= 0 {
		return false
	}

	return cache.now().Sub(entry.probedAt) >= cache.policy.TTL
}
