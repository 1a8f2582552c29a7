package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another operation holds the requested lock.
var ErrLockHeld = errors.New("lock already held")

// RecordLock serializes critical sections per record using a Redis SET NX
// key with a TTL. The TTL bounds how long a crashed holder can block other
// workers; releases are token-checked so an expired holder cannot release a
// successor's lock.
type RecordLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecordLock builds a RecordLock. A non-positive ttl defaults to one
// minute, comfortably above the authority's call timeout.
func NewRecordLock(client *redis.Client, ttl time.Duration) *RecordLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RecordLock{client: client, ttl: ttl}
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lock for key, returning a release func. It fails fast
// with ErrLockHeld when the lock is taken: callers surface "busy" instead of
// queueing a second submission.
func (l *RecordLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockName(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{lockName(key)}, token).Err()
	}
	return release, nil
}

func lockName(key string) string {
	return "lock:" + key
}
