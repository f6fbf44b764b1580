package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps each user's namespace in one Redis hash whose fields are
// the five session fields.
type RedisStorage struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStorage(rdb redis.Cmdable, ttl time.Duration) *RedisStorage {
	return &RedisStorage{rdb: rdb, ttl: ttl}
}

func (r *RedisStorage) sessionKey(userID string) string {
	return fmt.Sprintf("session:%s", userID)
}

func (r *RedisStorage) lockKey(userID string) string {
	return fmt.Sprintf("session:%s:lock", userID)
}

// unlockScript deletes the lease key only while it still holds our token.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

func (r *RedisStorage) Get(ctx context.Context, userID, field string) ([]byte, bool, error) {
	key := r.sessionKey(userID)

	b, err := r.rdb.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("key", key).Str("field", field).Msg("failed to read session field from redis")
		return nil, false, errx.WrapRedis(err)
	}
	return b, true, nil
}

func (r *RedisStorage) Put(ctx context.Context, userID, field string, value []byte) error {
	key := r.sessionKey(userID)

	if err := r.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Str("field", field).Msg("failed to write session field to redis")
		return errx.WrapRedis(err)
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on session key")
		}
	}
	return nil
}

// TryLock sets the lease key with SET NX PX.
func (r *RedisStorage) TryLock(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	key := r.lockKey(userID)

	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to acquire session lease")
		return false, errx.WrapRedis(err)
	}
	return ok, nil
}

func (r *RedisStorage) Unlock(ctx context.Context, userID, token string) error {
	key := r.lockKey(userID)

	if err := r.rdb.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to release session lease")
		return errx.WrapRedis(err)
	}
	return nil
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Locker  = (*RedisStorage)(nil)
)
