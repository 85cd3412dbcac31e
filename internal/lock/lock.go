// Package lock guards reconciliation cycles so that two processes never
// run overlapping cycles for the same target.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
)

const keyPrefix = "follow:lock:"

// Release frees a lock. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// Acquire returns ok=false without error when the lock is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

// NopLocker always grants the lock. Used when Redis is not configured.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (Release, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// RedisLocker implements Locker with SET NX PX and a token-checked delete.
// A held lock is renewed every ttl/3 until released, so it never expires
// under a cycle that outlasts ttl.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker connects to Redis and returns a locker.
func NewRedisLocker(address, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLocker{client: client}, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Acquire tries to take the lock for key.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	token := uuid.NewString()
	fullKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(fullKey, token, ttl, stop, stopped)

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-stopped
		})
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

func (l *RedisLocker) keepAlive(fullKey, token string, ttl time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	logger := pkglog.L()

	every := ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := l.extend(ctx, fullKey, token, ttl)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("key", fullKey).Msg("failed to renew cycle lock")
				continue
			}
			if !held {
				logger.Warn().Str("key", fullKey).Msg("cycle lock lost before release")
				return
			}
		}
	}
}

// extend pushes the expiry of fullKey out to ttl while it holds token.
func (l *RedisLocker) extend(ctx context.Context, fullKey, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{fullKey}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis extend lock %s: %w", fullKey, err)
	}
	return n == 1, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var (
	_ Locker = NopLocker{}
	_ Locker = (*RedisLocker)(nil)
)
