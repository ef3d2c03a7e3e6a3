package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder keeps a run locked.
const DefaultTTL = 30 * time.Second

const keyPrefix = "audit:lock:"

// Only the holder token may release or extend a lock.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

type scripter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker backed by SET NX PX. While held, the lock is extended
// every TTL/3 so long crawls keep ownership.
type Redis struct {
	client scripter
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis builds a Redis Locker. A non-positive ttl uses DefaultTTL.
func NewRedis(client scripter, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// TryLock acquires key without blocking.
func (r *Redis) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(redisKey, token, stop)
	}()

	var once sync.Once
	var unlockErr error
	unlock := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
			if err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				unlockErr = fmt.Errorf("release lock %s: %w", key, err)
			}
		})
		return unlockErr
	}
	return unlock, true, nil
}

func (r *Redis) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := r.client.Eval(ctx, extendScript, []string{key}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				r.logger.Warn("lock extend failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				r.logger.Warn("lock lost", zap.String("key", key))
				return
			}
		}
	}
}
