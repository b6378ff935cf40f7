package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a distributed lock for deployments with several server replicas.
// Both Lock and RLock are exclusive. A held lock is refreshed every TTL/3
// until released, so TTL only bounds how long a crashed holder blocks others.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRedis returns a Redis locker. ttl <= 0 defaults to one minute.
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "powerdash"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		logger:     logger,
		minBackoff: 20 * time.Millisecond,
		maxBackoff: 500 * time.Millisecond,
	}
}

func (r *Redis) key(k string) string { return r.prefix + ":lock:" + k }

// Lock blocks until the lock is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.key(key)
	token := uuid.NewString()

	backoff := r.minBackoff
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("keylock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, r.maxBackoff)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.refresh(k, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil {
				r.logger.Warn("keylock: release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// RLock is Lock: Redis readers and writers exclude each other.
func (r *Redis) RLock(ctx context.Context, key string) (func(), error) {
	return r.Lock(ctx, key)
}

func (r *Redis) refresh(k, token string, stop <-chan struct{}) {
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := extendScript.Run(ctx, r.rdb, []string{k}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil || n == 0 {
				r.logger.Warn("keylock: lease refresh failed", zap.String("key", k), zap.Error(err))
			}
		}
	}
}

var _ Locker = (*Redis)(nil)
