package distlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "tick:dispatch", time.Minute)
	b := NewRedisLock(client, "tick:dispatch", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire")

	// b does not own the key, so its release is a no-op
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:tick:dispatch"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:tick:dispatch"))
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", 2*time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	b := NewRedisLock(client, "k", 2*time.Second)
	ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_TryLock(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, time.Minute)

	unlock, err := locker.TryLock(ctx, "enrollment:s1:seq1")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "enrollment:s1:seq1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	unlock() // idempotent

	again, err := locker.TryLock(ctx, "enrollment:s1:seq1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_LockHonoursContext(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Minute)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_SerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "same")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.slots, "slots are reclaimed once unused")
}

func TestLocalLocker_TryLockDifferentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	a, err := locker.TryLock(ctx, "a")
	require.NoError(t, err)
	b, err := locker.TryLock(ctx, "b")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "a")
	assert.ErrorIs(t, err, ErrNotAcquired)

	a()
	b()
}

func TestNewLocker_FallsBackToLocal(t *testing.T) {
	_, ok := NewLocker(nil, time.Second).(*LocalLocker)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "tick:nudge")
	id := AdvisoryID("tick:nudge")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
