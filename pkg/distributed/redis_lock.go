package distributed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// Lua: 자신이 획득한 락만 해제
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Lua: 자신이 획득한 락만 TTL 연장
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock Redis 기반 분산 락
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// RedisLockManager Redis 분산 락 관리자
type RedisLockManager struct {
	client *redis.Client
}

func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{client: client}
}

// AcquireLock SET NX 로 원자적 락 획득 시도
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}, nil
}

// TryLockWithRetry 재시도를 통한 락 획득
func (m *RedisLockManager) TryLockWithRetry(
	ctx context.Context,
	key, value string,
	ttl time.Duration,
	maxRetries int,
	retryInterval time.Duration,
) (*RedisLock, error) {
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, value, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		// 재시도 전 대기
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, ErrLockNotAcquired
}

// TryLock 한 번만 시도하고 해제 함수를 반환 (주기 작업 단일 실행용).
// 해제 전까지 ttl/2 마다 TTL 을 연장한다.
func (m *RedisLockManager) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := m.AcquireLock(ctx, key, uuid.NewString(), ttl)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		lock.keepAlive(stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = lock.Release(ctx)
		})
	}, nil
}

// keepAlive stop 이 닫히거나 락을 잃을 때까지 TTL 연장
func (l *RedisLock) keepAlive(stop <-chan struct{}) {
	ttl := l.ttl
	interval := ttl / 2
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := l.Extend(ctx, ttl)
			cancel()
			if errors.Is(err, ErrLockNotHeld) {
				return
			}
		}
	}
}

// Release 락 해제
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 락 TTL 연장
func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}

// PairLockerConfig 플레이어 쌍 락 설정
type PairLockerConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// RedisPairLocker 두 플레이어 키를 정렬 순서로 잠그는 분산 락.
// 여러 인스턴스가 같은 저장소를 공유할 때 매치 생성 구간을 보호한다.
type RedisPairLocker struct {
	manager    *RedisLockManager
	logger     *zap.Logger
	instanceID string
	cfg        PairLockerConfig
}

func NewRedisPairLocker(client *redis.Client, logger *zap.Logger, cfg PairLockerConfig) *RedisPairLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "matchmaking:lock:player:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisPairLocker{
		manager:    NewRedisLockManager(client),
		logger:     logger,
		instanceID: uuid.NewString(),
		cfg:        cfg,
	}
}

// LockPair 재시도 후에도 획득하지 못하면 ErrLockNotAcquired
func (l *RedisPairLocker) LockPair(ctx context.Context, a, b string) (func(), error) {
	keys := []string{a}
	if b != a {
		keys = append(keys, b)
		sort.Strings(keys)
	}

	value := l.instanceID + ":" + uuid.NewString()
	var held []*RedisLock
	for _, id := range keys {
		lock, err := l.manager.TryLockWithRetry(ctx,
			l.cfg.KeyPrefix+id,
			value,
			l.cfg.TTL,
			l.cfg.MaxRetries,
			l.cfg.RetryInterval,
		)
		if err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, lock)
	}

	return func() { l.releaseAll(held) }, nil
}

func (l *RedisPairLocker) releaseAll(locks []*RedisLock) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := len(locks) - 1; i >= 0; i-- {
		if err := locks[i].Release(ctx); err != nil {
			// TTL 만료 후 해제하면 ErrLockNotHeld
			l.logger.Warn("Failed to release pair lock",
				zap.String("key", locks[i].key),
				zap.Error(err))
		}
	}
}
