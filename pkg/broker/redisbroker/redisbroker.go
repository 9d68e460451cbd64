// Package redisbroker implements pkg/broker.Broker on top of Redis, grounded
// on the original implementation's Redis-backed distributed lock
// (common/redis_custom_locking.py) but simplified to the flatter
// get/set/acquire/release/incr contract spec §4.5 requires — no separate
// reader/writer lock class.
package redisbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/secchiware/secchiware/pkg/broker"
)

// releaseScript atomically deletes the lock key only if it still holds the
// caller's token, preventing a slow caller from releasing a lock acquired by
// someone else after the original token's TTL expired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Broker wraps a *redis.Client.
type Broker struct {
	client  *redis.Client
	release *redis.Script
}

var _ broker.Broker = (*Broker)(nil)

// New connects to addr (host:port), selecting db and optionally authenticating.
func New(addr, password string, db int) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbroker: ping %s: %w", addr, err)
	}
	return &Broker{client: client, release: redis.NewScript(releaseScript)}, nil
}

func (b *Broker) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *Broker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *Broker) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *Broker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := b.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redisbroker: acquire %q: %w", name, err)
	}
	if !ok {
		return "", broker.ErrNotAcquired
	}
	return token, nil
}

func (b *Broker) Release(ctx context.Context, name, token string) error {
	n, err := b.release.Run(ctx, b.client, []string{lockKey(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("redisbroker: release %q: %w", name, err)
	}
	if n == 0 {
		return broker.ErrNotHeld
	}
	return nil
}

func (b *Broker) Incr(ctx context.Context, key string) (int64, error) {
	return b.client.Incr(ctx, key).Result()
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func lockKey(name string) string {
	return "lock:" + name
}
