// Package cache provides the advisory in-memory balance cache. The remote
// store remains the source of truth; staleness here only costs one extra
// remote read.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/internal/app/system"
)

// DefaultTTL is how long a cached balance stays valid. The janitor sweeps
// expired entries at the same interval.
const DefaultTTL = 300 * time.Second

type entry struct {
	balance   decimal.Decimal
	expiresAt time.Time
}

// BalanceCache is a TTL map of user ID to balance. All access is serialized by
// a single mutex; the mutex is never held across a network call.
type BalanceCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ system.Service = (*BalanceCache)(nil)

// NewBalanceCache creates a cache with the given TTL; zero means DefaultTTL.
func NewBalanceCache(ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BalanceCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached balance and whether it was present and unexpired.
func (c *BalanceCache) Get(userID string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, userID)
		return decimal.Zero, false
	}
	return e.balance, true
}

// Set stores a balance with a fresh TTL.
func (c *BalanceCache) Set(userID string, balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entry{balance: balance, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes a user's cached balance.
func (c *BalanceCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len returns the number of live entries, expired or not.
func (c *BalanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep removes expired entries.
func (c *BalanceCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for userID, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, userID)
		}
	}
}

// Name implements system.Service.
func (c *BalanceCache) Name() string { return "balance-cache" }

// Start launches the background janitor.
func (c *BalanceCache) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
	return nil
}

// Stop halts the janitor and waits for it to exit.
func (c *BalanceCache) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
