package app

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/visera/backend/internal/cache"
	"github.com/visera/backend/internal/middleware"
)

const (
	// CacheDriverDatabase keeps counters in the cache_entries table so every replica shares them.
	CacheDriverDatabase = "database"
	// CacheDriverMemory keeps counters in process.
	CacheDriverMemory = "memory"
)

// DriverName returns the normalised cache driver, defaulting to the database store.
func (c CacheConfig) DriverName() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return CacheDriverDatabase
	}
	return driver
}

// RateStore builds the rate limiter backend selected by the cache driver. The returned
// cache.Store is nil for the in-memory driver.
func (c CacheConfig) RateStore(ctx context.Context, db *gorm.DB) (middleware.RateStore, cache.Store) {
	if c.DriverName() == CacheDriverMemory || db == nil {
		return middleware.NewMemoryRateStore(ctx), nil
	}
	store := cache.NewDatabaseStore(db)
	return middleware.NewCacheRateStore(store), store
}
