package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
)

const lockRetryInterval = 10 * time.Millisecond

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a graph.Locker shared by every instance pointing at the same
// Redis. Locks expire after ttl so a crashed holder cannot wedge a pair.
type Locker struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ graph.Locker = (*Locker)(nil)

// NewLocker creates a distributed pair lock
func NewLocker(client *Client, ttl time.Duration, logger *zap.Logger) *Locker {
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Lock polls SETNX until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l.client == nil || l.client.client == nil {
		return nil, ErrCacheDisabled
	}
	rkey := l.lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(rkey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(rkey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := releaseScript.Run(ctx, l.client.client, []string{rkey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("Failed to release pair lock", zap.String("key", rkey), zap.Error(err))
		}
	}
}

func (l *Locker) lockKey(key string) string {
	return l.client.namespaceKey("lock:" + HashKey(key))
}
