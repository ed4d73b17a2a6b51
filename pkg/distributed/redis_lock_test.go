package distributed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)
	return client
}

func TestAcquireLock_Mock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	mock.ExpectSetNX("matchmaking:lock:reaper", "a", 5*time.Second).SetVal(true)
	lock, err := manager.AcquireLock(ctx, "matchmaking:lock:reaper", "a", 5*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, lock)

	mock.ExpectSetNX("matchmaking:lock:reaper", "b", 5*time.Second).SetVal(false)
	lock, err = manager.AcquireLock(ctx, "matchmaking:lock:reaper", "b", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock)

	mock.ExpectSetNX("matchmaking:lock:reaper", "c", 5*time.Second).SetErr(errors.New("connection refused"))
	_, err = manager.AcquireLock(ctx, "matchmaking:lock:reaper", "c", 5*time.Second)
	assert.EqualError(t, err, "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)

	// 동일 키 재획득은 실패
	_, err = manager.AcquireLock(ctx, "test:lock", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	lock3, err := manager.AcquireLock(ctx, "test:lock", "instance3", 5*time.Second)
	require.NoError(t, err)
	defer lock3.Release(ctx)
}

func TestRedisLock_Extend(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:extend", "instance1", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Extend(ctx, 3*time.Second))

	ttl, err := client.PTTL(ctx, "test:extend").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Second)
	require.NoError(t, lock.Release(ctx))

	assert.ErrorIs(t, lock.Extend(ctx, time.Second), ErrLockNotHeld)
}

func TestTryLock_KeepsLockPastTTL(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	unlock, err := manager.TryLock(ctx, "test:keepalive", 400*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(time.Second)

	_, err = manager.TryLock(ctx, "test:keepalive", 400*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()
	unlock()

	exists, err := client.Exists(ctx, "test:keepalive").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestTryLock_SingleHolder(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	unlock, err := manager.TryLock(ctx, "matchmaking:lock:reaper", 5*time.Second)
	require.NoError(t, err)

	_, err = manager.TryLock(ctx, "matchmaking:lock:reaper", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()

	unlock, err = manager.TryLock(ctx, "matchmaking:lock:reaper", 5*time.Second)
	require.NoError(t, err)
	unlock()
}

func TestPairLocker_ExcludesOverlappingPairs(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	locker := NewRedisPairLocker(client, zap.NewNop(), PairLockerConfig{})
	ctx := context.Background()

	unlock, err := locker.LockPair(ctx, "bob", "alice")
	require.NoError(t, err)

	// alice 가 겹치므로 실패
	_, err = locker.LockPair(ctx, "alice", "carol")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// 실패한 시도는 carol 락을 남기지 않음
	exists, err := client.Exists(ctx, "matchmaking:lock:player:carol").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	other, err := locker.LockPair(ctx, "carol", "dave")
	require.NoError(t, err)
	other()

	unlock()

	unlock, err = locker.LockPair(ctx, "alice", "carol")
	require.NoError(t, err)
	unlock()
}

func TestPairLocker_Concurrent(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	locker := NewRedisPairLocker(client, zap.NewNop(), PairLockerConfig{
		MaxRetries:    50,
		RetryInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.LockPair(ctx, "p1", "p2")
			if err != nil {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}
