package lease

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
)

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store shared by every grader process that talks to client.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client, prefix: constants.LeaseKeyPrefix}
}

func (r *redisStore) key(key string) string {
	return r.prefix + key
}

func (r *redisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	// Re-acquiring our own lease only refreshes it.
	if err := r.Renew(ctx, key, holder, ttl); err != nil {
		if stdErrors.Is(err, errors.ErrLeaseNotHeld) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *redisStore) Renew(ctx context.Context, key, holder string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, r.client, []string{r.key(key)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", key, err)
	}
	if n == 0 {
		return errors.ErrLeaseNotHeld
	}
	return nil
}

func (r *redisStore) Release(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, holder).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

func (r *redisStore) Holder(ctx context.Context, key string) (string, error) {
	holder, err := r.client.Get(ctx, r.key(key)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", key, err)
	}
	return holder, nil
}
