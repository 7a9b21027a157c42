package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrNotAcquired is returned when the lock could not be taken before the
// wait time ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Redis is a lock shared by every worker using the same Redis server.
// A lock that is not released expires after TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string

	TTL     time.Duration
	Wait    time.Duration
	Backoff time.Duration
}

// NewRedis returns a lock using client. Keys are prefixed with prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		TTL:     30 * time.Second,
		Wait:    10 * time.Second,
		Backoff: 25 * time.Millisecond,
	}
}

// NewRedisClient connects to a single Redis server.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Lock takes key, retrying with exponential backoff until Wait elapses or
// ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	key = r.prefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.Wait)
	defer cancel()

	backoff := r.Backoff
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-t.C:
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}

	return func() {
		// The caller's context may already be cancelled; release anyway.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, r.client, []string{key}, token).Err()
	}, nil
}
