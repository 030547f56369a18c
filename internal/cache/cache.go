package cache

import (
	"context"
	"time"
)

// Cache backs the session-level read cache on call records. Monitor sessions
// invalidate through it so writes committed by the webhook pipeline become
// visible mid-poll; a miss is never an error.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
