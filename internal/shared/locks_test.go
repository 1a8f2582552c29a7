package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*RecordLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRecordLock(client, time.Minute), mr
}

func TestRecordLockMutualExclusion(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "invoice:abc")
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "invoice:abc")
	require.ErrorIs(t, err, ErrLockHeld)

	// A different record is independent.
	release2, err := lock.Acquire(ctx, "invoice:def")
	require.NoError(t, err)
	release2()

	release()

	release3, err := lock.Acquire(ctx, "invoice:abc")
	require.NoError(t, err)
	release3()
}

func TestRecordLockExpiredHolderCannotRelease(t *testing.T) {
	lock, mr := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "invoice:abc")
	require.NoError(t, err)

	// Simulate the TTL firing and a second worker taking over.
	mr.FastForward(2 * time.Minute)
	release2, err := lock.Acquire(ctx, "invoice:abc")
	require.NoError(t, err)

	// The stale holder's release must not free the successor's lock.
	release()
	_, err = lock.Acquire(ctx, "invoice:abc")
	require.ErrorIs(t, err, ErrLockHeld)

	release2()
}
