// Package idempotency drops duplicate webhook deliveries. Gateways retry
// deliveries aggressively, so every inbound message id is marked before
// processing and checked atomically.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/quailyquaily/wamorph/internal/kvstore"
)

const keyPrefix = "dedup:"

const DefaultTTL = 24 * time.Hour

type Store struct {
	kv  kvstore.Store
	ttl time.Duration
}

func New(kv kvstore.Store, ttl time.Duration) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}, nil
}

// MarkAndCheck marks messageID as seen and reports whether this call was
// the first within the retention window. At most one concurrent caller
// for the same id observes true; the backing SETNX serializes the race.
func (s *Store) MarkAndCheck(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message id is required")
	}
	first, err := s.kv.SetNX(ctx, keyPrefix+messageID, "1", s.ttl)
	if err != nil {
		return false, fmt.Errorf("mark message %s: %w", messageID, err)
	}
	return first, nil
}
