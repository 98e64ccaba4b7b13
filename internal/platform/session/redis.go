package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Redis implements domain.SessionStore with one Redis list per session.
// Each element is a JSON encoded turn, oldest first.
type Redis struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	maxTurns int
}

// Ensure Redis satisfies the interface
var _ domain.SessionStore = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection before returning.
func NewRedis(addr, prefix string, ttl time.Duration, maxTurns int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisFromClient(rdb, prefix, ttl, maxTurns), nil
}

// NewRedisFromClient wraps an existing client. Odd maxTurns are rounded down to whole exchanges.
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration, maxTurns int) *Redis {
	return &Redis{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		maxTurns: domain.TurnCap(maxTurns),
	}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) History(ctx context.Context, id string) ([]domain.Turn, error) {
	vals, err := r.client.LRange(ctx, r.key(id), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis history failed: %w", err)
	}

	turns := make([]domain.Turn, 0, len(vals))
	for _, v := range vals {
		var t domain.Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *Redis) Append(ctx context.Context, id string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	vals := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		vals = append(vals, data)
	}

	key := r.key(id)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, vals...)
		if r.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-r.maxTurns), -1)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
