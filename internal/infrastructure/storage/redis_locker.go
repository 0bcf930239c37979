package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const (
	redisLockPrefix     = "dsl:lock"
	DefaultRedisLockTTL = 2 * time.Minute
)

// Deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes cycles across hosts sharing one Redis. The TTL
// bounds how long a crashed holder can block a position.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func RedisLockKey(key domain.PositionKey) string {
	return fmt.Sprintf("%s:%s:%s", redisLockPrefix, key.StrategyID, key.Asset)
}

func (l *RedisLocker) TryLock(ctx context.Context, key domain.PositionKey) (func(), error) {
	redisKey := RedisLockKey(key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("Failed to release redis lock", zap.String("key", redisKey), zap.Error(err))
		}
	}, nil
}
