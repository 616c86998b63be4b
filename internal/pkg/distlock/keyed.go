package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock held by another owner")

// Unlock releases a keyed lock. It is safe to call more than once.
type Unlock func()

// Locker hands out mutually exclusive locks by key, e.g. one per
// (subject, sequence) pair.
type Locker interface {
	// TryLock acquires key without waiting or returns ErrNotAcquired.
	TryLock(ctx context.Context, key string) (Unlock, error)
	// Lock waits for key until ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// NewLocker returns a Redis-backed locker when a client is available and an
// in-process locker otherwise.
func NewLocker(redisClient *redis.Client, ttl time.Duration) Locker {
	if redisClient != nil {
		return NewRedisLocker(redisClient, ttl)
	}
	return NewLocalLocker()
}

// =============================================================================
// In-process keyed mutex
// =============================================================================

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	refs  map[string]int
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{}), refs: make(map[string]int)}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	l.refs[key]++
	return ch
}

func (l *LocalLocker) done(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs[key]--
	if l.refs[key] <= 0 {
		delete(l.refs, key)
		delete(l.slots, key)
	}
}

func (l *LocalLocker) unlockFunc(key string, ch chan struct{}) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-ch
			l.done(key)
		})
	}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(_ context.Context, key string) (Unlock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return l.unlockFunc(key, ch), nil
	default:
		l.done(key)
		return nil, ErrNotAcquired
	}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return l.unlockFunc(key, ch), nil
	case <-ctx.Done():
		l.done(key)
		return nil, ctx.Err()
	}
}

// =============================================================================
// Redis keyed locks
// =============================================================================

// RedisLocker issues one RedisLock per key.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisLocker creates a keyed locker. ttl bounds how long a crashed holder
// can block a key.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 25 * time.Millisecond}
}

func (r *RedisLocker) release(lock *RedisLock) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			lock.Release(ctx)
		})
	}
}

// TryLock implements Locker.
func (r *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, error) {
	lock := NewRedisLock(r.client, key, r.ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return r.release(lock), nil
}

// Lock implements Locker by polling until the key frees up or ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lock := NewRedisLock(r.client, key, r.ttl)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			return r.release(lock), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
