package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/visera/backend/internal/cache"
)

const defaultRateWindow = time.Minute

// RateStore counts hits for a key within a fixed window. It returns the count including the
// current hit and the time left until the window resets.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// fixedWindow is one counter and the instant it resets.
type fixedWindow struct {
	hits    int
	resetAt time.Time
}

func (w fixedWindow) expired(now time.Time) bool {
	return !now.Before(w.resetAt)
}

// localRateStore keeps counters in process memory. Limits are per instance, which suits
// single-node and test deployments.
type localRateStore struct {
	mu      sync.Mutex
	windows map[string]fixedWindow
	now     func() time.Time
}

// NewMemoryRateStore returns an in-process RateStore. Expired windows are swept every
// minute until ctx is cancelled.
func NewMemoryRateStore(ctx context.Context) RateStore {
	s := newLocalRateStore(time.Now)
	go s.sweepEvery(ctx, time.Minute)
	return s
}

func newLocalRateStore(now func() time.Time) *localRateStore {
	return &localRateStore{windows: make(map[string]fixedWindow), now: now}
}

func (s *localRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = defaultRateWindow
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.expired(now) {
		w = fixedWindow{resetAt: now.Add(window)}
	}
	w.hits++
	s.windows[key] = w

	return w.hits, w.resetAt.Sub(now), nil
}

func (s *localRateStore) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *localRateStore) sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// sharedRateStore keeps counters in a cache.Store so every API instance sees the same limits.
type sharedRateStore struct {
	store cache.Store
}

// NewCacheRateStore builds a RateStore on top of a cache.Store such as the database cache.
// It returns nil for a nil store.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return sharedRateStore{store: store}
}

func (s sharedRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = defaultRateWindow
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	if err != nil {
		return 0, 0, err
	}
	return int(count), ttl, nil
}
