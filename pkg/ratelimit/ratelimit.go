package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 키별 요청 허용 여부 판단
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucket 토큰 버킷 (limit 개 용량, window 동안 limit 개 리필)
type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// LocalLimiter 프로세스 내 토큰 버킷 리미터
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	limit   float64
	window  time.Duration
	now     func() time.Time
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   float64(limit),
		window:  window,
		now:     time.Now,
	}
}

// Allow 토큰 하나를 소비할 수 있으면 true
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.limit, lastSeen: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastSeen)
	b.tokens += elapsed.Seconds() * l.limit / l.window.Seconds()
	if b.tokens > l.limit {
		b.tokens = l.limit
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Cleanup window 이상 사용되지 않은 버킷 제거
func (l *LocalLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup ctx 종료까지 주기적으로 Cleanup 실행
func (l *LocalLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}
