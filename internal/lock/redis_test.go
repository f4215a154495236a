package lock

import (
	"context"
	"testing"
	"time"

	"runproxy/internal/config"
)

func TestNewRedis_Unreachable(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, config.LockConfig{RedisAddr: "127.0.0.1:1", TTL: time.Second})
	if err == nil {
		t.Fatal("expected error connecting to an unreachable server")
	}
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	t.Parallel()
	r := newRedis(nil, 0)
	if r.ttl != 2*time.Minute {
		t.Errorf("expected default ttl 2m, got %v", r.ttl)
	}
}
