package locks

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only while we still hold it, so an expired
// lease can never release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out redis-backed leases. One application is processed by at
// most one worker at a time; the TTL bounds how long a crashed holder can
// block successors.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

type Lease struct {
	rdb   *redis.Client
	Key   string
	Token string
}

// Acquire attempts a single SET NX. Callers that cannot proceed without
// the lock treat ErrNotAcquired as "someone else is already on it".
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{rdb: l.rdb, Key: key, Token: token}, nil
}

// Release is idempotent: releasing an expired or already-released lease
// is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, le.rdb, []string{le.Key}, le.Token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", le.Key, err)
	}
	return nil
}

// ProcessingKey is the lock name for one application's pipeline run.
func ProcessingKey(applicationID string) string {
	return "credithub:lock:process:" + applicationID
}
