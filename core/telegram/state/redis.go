package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Prefix string
	// TTL expires abandoned sessions; 0 keeps them until cleared.
	TTL time.Duration
}

// RedisStore persists encoded sessions under <prefix>:<chat_id>.
type RedisStore[S any] struct {
	rdb   redis.UniversalClient
	codec Codec[S]
	opts  RedisOptions
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore[S any](rdb redis.UniversalClient, codec Codec[S], opts RedisOptions) (*RedisStore[S], error) {
	if rdb == nil {
		return nil, errors.New("state: nil redis client")
	}
	if !codec.valid() {
		return nil, errNilCodec
	}
	if opts.Prefix == "" {
		opts.Prefix = "dialogue"
	}
	return &RedisStore[S]{rdb: rdb, codec: codec, opts: opts}, nil
}

// ConnectRedis creates a client and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("state: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisStore[S]) key(chatID int64) string {
	return r.opts.Prefix + ":" + strconv.FormatInt(chatID, 10)
}

// Get loads and decodes the session for chatID.
func (r *RedisStore[S]) Get(ctx context.Context, chatID int64) (S, bool, error) {
	var zero S
	raw, err := r.rdb.Get(ctx, r.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("state: redis get: %w", err)
	}
	s, err := r.codec.Unmarshal(raw)
	if err != nil {
		return zero, false, fmt.Errorf("state: redis decode: %w", err)
	}
	return s, true, nil
}

// Set encodes and writes the session, refreshing its TTL.
func (r *RedisStore[S]) Set(ctx context.Context, chatID int64, s S) error {
	raw, err := r.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: redis encode: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(chatID), raw, r.opts.TTL).Err(); err != nil {
		return fmt.Errorf("state: redis set: %w", err)
	}
	return nil
}

// Clear deletes the session key.
func (r *RedisStore[S]) Clear(ctx context.Context, chatID int64) error {
	if err := r.rdb.Del(ctx, r.key(chatID)).Err(); err != nil {
		return fmt.Errorf("state: redis del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
