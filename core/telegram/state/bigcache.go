package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
)

// foreverWindow stands in for "no expiry"; bigcache evicts anything older than its life window.
const foreverWindow = 10 * 365 * 24 * time.Hour

// BigcacheStore keeps encoded sessions in an in-process bigcache.
// A positive ttl evicts sessions that were not written for that long.
type BigcacheStore[S any] struct {
	cache *bigcache.BigCache
	codec Codec[S]
}

// NewBigcacheStore builds a bigcache-backed store. Close releases the cleanup goroutine.
func NewBigcacheStore[S any](ctx context.Context, codec Codec[S], ttl time.Duration) (*BigcacheStore[S], error) {
	if !codec.valid() {
		return nil, errNilCodec
	}
	window := ttl
	if window <= 0 {
		window = foreverWindow
	}
	cfg := bigcache.DefaultConfig(window)
	if ttl <= 0 {
		cfg.CleanWindow = 0
	} else if ttl < time.Minute {
		cfg.CleanWindow = ttl
	} else {
		cfg.CleanWindow = time.Minute
	}
	// sessions are a few dozen bytes; the defaults preallocate hundreds of MB
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 64 * 16
	cfg.MaxEntrySize = 256
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("state: bigcache init: %w", err)
	}
	return &BigcacheStore[S]{cache: cache, codec: codec}, nil
}

// Get decodes the stored session for chatID.
func (b *BigcacheStore[S]) Get(_ context.Context, chatID int64) (S, bool, error) {
	var zero S
	raw, err := b.cache.Get(chatKey(chatID))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("state: bigcache get: %w", err)
	}
	s, err := b.codec.Unmarshal(raw)
	if err != nil {
		return zero, false, fmt.Errorf("state: bigcache decode: %w", err)
	}
	return s, true, nil
}

// Set encodes and stores the session for chatID.
func (b *BigcacheStore[S]) Set(_ context.Context, chatID int64, s S) error {
	raw, err := b.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: bigcache encode: %w", err)
	}
	if err := b.cache.Set(chatKey(chatID), raw); err != nil {
		return fmt.Errorf("state: bigcache set: %w", err)
	}
	return nil
}

// Clear drops the session for chatID. Clearing an absent session is not an error.
func (b *BigcacheStore[S]) Clear(_ context.Context, chatID int64) error {
	err := b.cache.Delete(chatKey(chatID))
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("state: bigcache delete: %w", err)
	}
	return nil
}

// Len reports the number of cached sessions.
func (b *BigcacheStore[S]) Len() int {
	return b.cache.Len()
}

// Close stops the cache.
func (b *BigcacheStore[S]) Close() error {
	return b.cache.Close()
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
