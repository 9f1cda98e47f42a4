package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRedisLockTTL expires a lock whose holder died.
	DefaultRedisLockTTL = 2 * time.Minute
	redisLockPrefix     = "repoindex:lock:"
	redisPollInterval   = 50 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock grants exclusive access shared by every process using the same
// Redis server, with SET NX and a random token per holder. A held lock is
// renewed every third of its TTL until released, so the TTL only bounds how
// long the lock of a dead holder survives.
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
	renew  time.Duration
	poll   time.Duration
}

// NewRedisLock returns a lock using client. A non-positive ttl selects
// DefaultRedisLockTTL.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	renew := ttl / 3
	if renew <= 0 {
		renew = ttl
	}
	return &RedisLock{client: client, ttl: ttl, renew: renew, poll: redisPollInterval}
}

// Acquire polls until the lock on key is obtained or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("acquire lock for %s: %w", key, ctxErr)
			}
			return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(redisKey, key, token, stop, stopped)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// The caller's context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
			if err != nil && !errors.Is(err, redis.Nil) {
				logrus.WithError(err).WithField("key", key).Warn("Failed to release redis lock")
				return
			}
			if n == 0 {
				logrus.WithField("key", key).Warn("Redis lock expired before release")
			}
		})
	}
	return release, nil
}

// keepAlive renews the lock on redisKey until stop is closed or the lock is
// found to belong to someone else.
func (l *RedisLock) keepAlive(redisKey, key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	log := logrus.WithField("key", key)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.WithError(err).Warn("Failed to renew redis lock")
			continue
		}
		if n == 0 {
			log.Warn("Redis lock lost before release")
			return
		}
	}
}
