package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/visera/backend/internal/models"
)

var errNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on top of the cache_entries table.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a DatabaseStore.
type Option func(*DatabaseStore)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...Option) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IncrementWithTTL atomically increments a counter for the supplied key. The window starts
// with the first hit and is not extended by later ones.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	count, expiry := int64(1), now.Add(window)

	err = db.Transaction(func(tx *gorm.DB) error {
		entry, inserted, err := lockOrInsert(tx, models.CacheEntry{Key: key, Value: []byte("1"), ExpiresAt: expiry})
		if err != nil || inserted {
			return err
		}

		if entry.ExpiresAt.After(now) {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count, expiry = current+1, entry.ExpiresAt
		}
		return updateEntry(tx, key, []byte(strconv.FormatInt(count, 10)), expiry)
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// SetNX writes value when key is missing or expired.
func (s *DatabaseStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, time.Duration, error) {
	db, err := s.session(ctx)
	if err != nil {
		return false, 0, err
	}

	now := s.now()

	var (
		written   bool
		remaining time.Duration
	)

	err = db.Transaction(func(tx *gorm.DB) error {
		entry, inserted, err := lockOrInsert(tx, models.CacheEntry{Key: key, Value: value, ExpiresAt: expiryFor(now, ttl)})
		switch {
		case err != nil:
			return err
		case inserted:
			written = true
			return nil
		case entry.expired(now):
			written = true
			return updateEntry(tx, key, value, expiryFor(now, ttl))
		}

		if !entry.ExpiresAt.IsZero() {
			remaining = entry.ExpiresAt.Sub(now)
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return written, remaining, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	db, err := s.session(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}

	return db.Where("key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired removes entries whose expiry has passed and returns how many were deleted.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, err
	}

	result := db.
		Where("expires_at <> ? AND expires_at <= ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

func (s *DatabaseStore) session(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// cachedEntry adds expiry rules to a row. A zero ExpiresAt never expires.
type cachedEntry struct {
	models.CacheEntry
}

func (e cachedEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// lockEntry loads key with a row lock held for the rest of tx. Drivers without SELECT ...
// FOR UPDATE (sqlite) serialise through the transaction instead.
func lockEntry(tx *gorm.DB, key string) (cachedEntry, bool, error) {
	var row models.CacheEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cachedEntry{}, false, nil
	}
	if err != nil {
		return cachedEntry{}, false, err
	}
	return cachedEntry{row}, true, nil
}

// lockOrInsert locks the existing row for fresh.Key or inserts fresh. When a concurrent
// transaction inserts the same key first, the insert is skipped and that row is locked
// instead of failing on the primary key.
func lockOrInsert(tx *gorm.DB, fresh models.CacheEntry) (cachedEntry, bool, error) {
	entry, found, err := lockEntry(tx, fresh.Key)
	if err != nil || found {
		return entry, false, err
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&fresh)
	if result.Error != nil {
		return cachedEntry{}, false, result.Error
	}
	if result.RowsAffected == 1 {
		return cachedEntry{fresh}, true, nil
	}

	entry, found, err = lockEntry(tx, fresh.Key)
	if err != nil {
		return cachedEntry{}, false, err
	}
	if !found {
		return cachedEntry{}, false, fmt.Errorf("cache: entry %q vanished after conflicting insert", fresh.Key)
	}
	return entry, false, nil
}

func updateEntry(tx *gorm.DB, key string, value []byte, expiresAt time.Time) error {
	return tx.Model(&models.CacheEntry{}).
		Where("key = ?", key).
		Updates(map[string]any{"value": value, "expires_at": expiresAt}).Error
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
