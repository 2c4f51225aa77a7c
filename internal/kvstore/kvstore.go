// Package kvstore narrows the shared key-value store to the primitives
// the bot's counters and logs need. The production backend is Redis; an
// in-memory backend backs tests and single-binary setups without Redis.
package kvstore

import (
	"context"
	"time"
)

type Store interface {
	// SetNX sets the key only if absent; reports whether this call set it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	Ping(ctx context.Context) error
}
