package cache

import (
	"sync"

	"github.com/google/uuid"
)

// BalanceCache is the in-process mirror of user balance records. It is
// non-authoritative: entries appear when a balance is read through the store
// and are adjusted in place after successful mutations. It is never consulted
// to decide whether a withdrawal is permitted.
type BalanceCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[string]float64
}

// New creates an empty balance cache.
func New() *BalanceCache {
	return &BalanceCache{entries: make(map[uuid.UUID]map[string]float64)}
}

// Balance returns a cached balance; ok is false when the user has no entry.
// A live entry reports zero for currencies the user never held.
func (c *BalanceCache) Balance(userID uuid.UUID, currency string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	balances, ok := c.entries[userID]
	if !ok {
		return 0, false
	}
	return balances[currency], true
}

// Put installs (or replaces) a user's full balance map.
func (c *BalanceCache) Put(userID uuid.UUID, balances map[string]float64) {
	cp := make(map[string]float64, len(balances))
	for k, v := range balances {
		cp[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cp
}

// ApplyDelta adjusts a cached balance. No-op when the user has no live entry.
func (c *BalanceCache) ApplyDelta(userID uuid.UUID, currency string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balances, ok := c.entries[userID]
	if !ok {
		return
	}
	balances[currency] += delta
}

// Set overwrites a cached balance. No-op when the user has no live entry.
func (c *BalanceCache) Set(userID uuid.UUID, currency string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balances, ok := c.entries[userID]
	if !ok {
		return
	}
	balances[currency] = amount
}

// Invalidate drops a user's entry.
func (c *BalanceCache) Invalidate(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len reports the number of live entries.
func (c *BalanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
