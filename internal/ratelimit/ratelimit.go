// Package ratelimit caps how many inbound events a single chat may feed
// into the pipeline per window. Fixed-window counting: the first
// increment of a window arms the key's TTL, the window resets when the
// key expires.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/quailyquaily/wamorph/internal/kvstore"
)

const keyPrefix = "ratelimit:"

const (
	DefaultWindow    = 60 * time.Second
	DefaultThreshold = 30
)

type Limiter struct {
	kv        kvstore.Store
	window    time.Duration
	threshold int64
}

func New(kv kvstore.Store, window time.Duration, threshold int) (*Limiter, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Limiter{kv: kv, window: window, threshold: int64(threshold)}, nil
}

// Allow counts the event against chatID's current window and reports
// whether it is within the threshold. The INCR is atomic, so concurrent
// deliveries for the same chat cannot both slip past the limit.
func (l *Limiter) Allow(ctx context.Context, chatID string) (bool, error) {
	if chatID == "" {
		return false, fmt.Errorf("chat id is required")
	}
	key := keyPrefix + chatID
	n, err := l.kv.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("count chat %s: %w", chatID, err)
	}
	if n == 1 {
		if err := l.kv.Expire(ctx, key, l.window); err != nil {
			return false, fmt.Errorf("arm window for chat %s: %w", chatID, err)
		}
	}
	return n <= l.threshold, nil
}
