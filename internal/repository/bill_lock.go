package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

// releaseLock deletes the key only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBillLocker is a best-effort per-bill mutex on Redis SETNX.
type RedisBillLocker struct {
	client *redis.Client
}

func NewRedisBillLocker(client *redis.Client) *RedisBillLocker {
	return &RedisBillLocker{client: client}
}

func billLockKey(billID int64) string {
	return fmt.Sprintf("bill_lock:%d", billID)
}

func (l *RedisBillLocker) TryLock(ctx context.Context, billID int64, ttl time.Duration) (func(), bool, error) {
	key := billLockKey(billID)
	token := uuid.NewString()

	locked, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}

	unlock := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseLock.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			telemetry.Logger.Warn("Failed to release bill lock",
				zap.Int64("bill_id", billID),
				zap.Error(err),
			)
		}
	}
	return unlock, true, nil
}
