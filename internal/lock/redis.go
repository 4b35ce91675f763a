package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signalforge/internal/sanitize"
)

// DefaultTTL bounds how long a crashed holder can block an account.
const DefaultTTL = 2 * time.Minute

const releaseTimeout = 5 * time.Second

// releaseScript deletes the key only if we still own it.
var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Redis is a Locker shared by every daemon replica pointing at the same
// Redis. Locks expire after ttl so a crashed holder cannot block an account
// forever; ttl must exceed the per-account deadline.
type Redis struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client goredis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "signalforge"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) key(accountID string) string {
	return fmt.Sprintf("{%s}:lock:account:%s", r.prefix, sanitize.Token(accountID))
}

func (r *Redis) TryLock(ctx context.Context, accountID string) (func(), bool, error) {
	key := r.key(accountID)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done by the time it unlocks.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.Warn("failed to release account lock",
					zap.String("account_id", accountID),
					zap.Error(err),
				)
			}
		})
	}, true, nil
}
