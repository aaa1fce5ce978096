// Package cache tracks which users have fresh cost data cached downstream.
package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryCostCache is an in-process invalidation tracker. Downstream readers
// check Stale before serving cached aggregates for a user.
type MemoryCostCache struct {
	logger *zap.Logger

	mu    sync.Mutex
	stale map[uint]bool
}

// NewMemoryCostCache creates the in-memory cache tracker.
func NewMemoryCostCache(logger *zap.Logger) *MemoryCostCache {
	return &MemoryCostCache{
		logger: logger,
		stale:  make(map[uint]bool),
	}
}

// InvalidateUser marks all of a user's cached cost aggregates stale.
func (c *MemoryCostCache) InvalidateUser(_ context.Context, userID uint) {
	c.mu.Lock()
	c.stale[userID] = true
	c.mu.Unlock()
	c.logger.Debug("invalidated cost cache", zap.Uint("user_id", userID))
}

// Stale reports and clears the invalidation flag for a user.
func (c *MemoryCostCache) Stale(userID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stale[userID] {
		return false
	}
	delete(c.stale, userID)
	return true
}
