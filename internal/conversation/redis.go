package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ragd:history:"

// RedisBackend stores each session as a Redis list of JSON turns.
type RedisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisBackend wraps an existing client. ttl > 0 expires idle sessions.
func NewRedisBackend(client redis.UniversalClient, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

// DialRedis connects using the conversation config and pings the server.
func DialRedis(ctx context.Context, cfg config.ConversationConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Value(),
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Redis.Addr, err)
	}
	return NewRedisBackend(client, cfg.TTL.Duration()), nil
}

func (b *RedisBackend) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := b.client.LRange(ctx, b.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decoding history turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append implements Backend. Push, trim and expiry run in one transaction.
func (b *RedisBackend) Append(ctx context.Context, sessionID string, max int, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding history turn: %w", err)
		}
		values[i] = data
	}

	key := b.key(sessionID)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if max > 0 {
			pipe.LTrim(ctx, key, int64(-max), -1)
		}
		if b.ttl > 0 {
			pipe.Expire(ctx, key, b.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Clear implements Backend.
func (b *RedisBackend) Clear(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, b.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
