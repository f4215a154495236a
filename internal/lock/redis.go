package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"runproxy/internal/config"
	"runproxy/internal/job"
)

var _ job.Locker = (*Redis)(nil)

const keyPrefix = "runproxy:lock:"

// unlockScript deletes the key only if it still holds the caller's token, so an
// expired holder cannot release a lock that has since been taken by another.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every instance connected to the same server.
// Locks expire after the configured TTL if their holder never releases them.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.LockConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	return newRedis(client, cfg.TTL), nil
}

func newRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

// TryLock sets key with a fresh token if it is absent.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Released after the request may have been cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("Failed to release lock, it will expire", "key", key, "ttl", r.ttl, "error", err)
		}
	}
	return release, true, nil
}

// Ready pings the server.
func (r *Redis) Ready(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
