package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

// releaseScript deletes the lease only if it still carries our token, so an
// expired lease taken over by another instance is left alone.
// KEYS[1] = lease key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker leases keys with SET NX PX so that several service instances
// exclude each other. A lease expires after ttl even if never released.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "scm:fulfillment:lock:",
		ttl:    ttl,
		log:    log,
	}
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	leaseKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, leaseKey, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to acquire lease %s", leaseKey))
	}
	if !ok {
		return nil, errors.LockContention(key)
	}

	return func() {
		// the caller's context may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{leaseKey}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("lease", leaseKey).Msg("Failed to release lease, it will expire")
		}
	}, nil
}
