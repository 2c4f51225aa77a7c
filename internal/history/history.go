// Package history keeps the rolling conversation context used to build
// LLM prompts, plus a per-group message log that feeds /summary. Both
// live in the shared KV store as JSON lists with a refresh-on-write TTL.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quailyquaily/wamorph/internal/kvstore"
)

const (
	contextKeyPrefix = "chat_context:"
	groupKeyPrefix   = "group_messages:"
)

const (
	DefaultLimit = 30
	DefaultTTL   = 24 * time.Hour
)

type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupEntry is one logged group-chat message, attributed by sender
// display name for summary prompts.
type GroupEntry struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Store struct {
	kv    kvstore.Store
	limit int64
	ttl   time.Duration
	nowFn func() time.Time
}

type Options struct {
	KV    kvstore.Store
	Limit int
	TTL   time.Duration
	Now   func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{kv: opts.KV, limit: int64(limit), ttl: ttl, nowFn: nowFn}, nil
}

// Append records one turn entry and trims the log to the most recent
// limit entries. Push-and-trim runs as one logical mutation; callers for
// the same chat are serialized by the pipeline's per-chat worker.
func (s *Store) Append(ctx context.Context, chatID, role, content string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	raw, err := json.Marshal(Entry{Role: role, Content: content, Timestamp: s.nowFn().UTC()})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	key := contextKeyPrefix + chatID
	if err := s.kv.RPush(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("append history for %s: %w", chatID, err)
	}
	if err := s.kv.LTrim(ctx, key, -s.limit, -1); err != nil {
		return fmt.Errorf("trim history for %s: %w", chatID, err)
	}
	if err := s.kv.Expire(ctx, key, s.ttl); err != nil {
		return fmt.Errorf("refresh history ttl for %s: %w", chatID, err)
	}
	return nil
}

// Read returns the retained entries oldest-first. A chat with no history
// yields an empty slice.
func (s *Store) Read(ctx context.Context, chatID string) ([]Entry, error) {
	items, err := s.kv.LRange(ctx, contextKeyPrefix+chatID, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", chatID, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, raw := range items {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Skip entries written by incompatible older versions.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) Clear(ctx context.Context, chatID string) error {
	if err := s.kv.Del(ctx, contextKeyPrefix+chatID); err != nil {
		return fmt.Errorf("clear history for %s: %w", chatID, err)
	}
	return nil
}

// AppendGroup logs a group message for later summarization. The group
// log is unbounded within its TTL; /summary reads only the tail.
func (s *Store) AppendGroup(ctx context.Context, chatID, sender, content string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	raw, err := json.Marshal(GroupEntry{Sender: sender, Content: content, Timestamp: s.nowFn().UTC()})
	if err != nil {
		return fmt.Errorf("encode group entry: %w", err)
	}
	key := groupKeyPrefix + chatID
	if err := s.kv.RPush(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("append group log for %s: %w", chatID, err)
	}
	if err := s.kv.Expire(ctx, key, s.ttl); err != nil {
		return fmt.Errorf("refresh group log ttl for %s: %w", chatID, err)
	}
	return nil
}

// ReadGroup returns up to n most recent group messages, oldest-first.
func (s *Store) ReadGroup(ctx context.Context, chatID string, n int) ([]GroupEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.kv.LRange(ctx, groupKeyPrefix+chatID, -int64(n), -1)
	if err != nil {
		return nil, fmt.Errorf("read group log for %s: %w", chatID, err)
	}
	entries := make([]GroupEntry, 0, len(items))
	for _, raw := range items {
		var e GroupEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) ClearGroup(ctx context.Context, chatID string) error {
	if err := s.kv.Del(ctx, groupKeyPrefix+chatID); err != nil {
		return fmt.Errorf("clear group log for %s: %w", chatID, err)
	}
	return nil
}
