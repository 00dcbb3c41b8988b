// Package lock serializes ledger rewrites per user across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fincal/internal/core"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "fincal:refresh-lock:"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

var ErrLockLost = errors.New("refresh lock expired before release")

// RedisLocker holds one SET NX key per user for the duration of a refresh.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	token  func() string
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, token: uuid.NewString}
}

// Connect opens a Redis client and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	slog.InfoContext(ctx, "Redis connection established", "addr", addr)
	return rdb, nil
}

func key(userID string) string { return keyPrefix + userID }

// Acquire takes the user's lock or fails with core.ErrConflict when another
// refresh holds it. The returned func releases it.
func (l *RedisLocker) Acquire(ctx context.Context, userID string) (func(context.Context) error, error) {
	k, token := key(userID), l.token()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w: %w", core.ErrStore, err)
	}
	if !ok {
		return nil, fmt.Errorf("refresh already running for %s: %w", userID, core.ErrConflict)
	}

	release := func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{k}, token).Int64()
		if err != nil {
			return fmt.Errorf("release refresh lock: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", userID, ErrLockLost)
		}
		return nil
	}
	return release, nil
}
