package revenueshare

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

//go:embed lua/release_lock.lua
var luaReleaseLock string

// Locker serializes runs for the same period. Acquire returns
// errors.ErrRunInProgress while another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker holds the lock as a SET NX key with an owner token; release
// only deletes the key if the token still matches.
type RedisLocker struct {
	rdb     redis.UniversalClient
	release *redis.Script
	logger  logger.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, log logger.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		release: redis.NewScript(luaReleaseLock),
		logger:  log,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire run lock")
	}
	if !ok {
		return nil, errors.ErrRunInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.release.Run(ctx, l.rdb, []string{"lock:" + key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release run lock", map[string]interface{}{
				"key":   key,
				"error": err,
			})
		}
	}, nil
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return nil, errors.ErrRunInProgress
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	l.held[key] = time.Now().Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
