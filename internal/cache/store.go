package cache

import (
	"context"
	"time"
)

// Store is the shared key/value state used for throttling and short lived markers.
type Store interface {
	// IncrementWithTTL bumps a fixed-window counter and reports the count and the time left
	// in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// SetNX stores value only when key is absent or expired. It reports whether the value was
	// written and, when it was not, how long the existing entry remains valid.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, time.Duration, error)
	// Delete removes keys, for example to release a marker taken with SetNX.
	Delete(ctx context.Context, keys ...string) error
}
