package service

import (
	"context"
	"sort"
	"sync"
)

// Locker 두 플레이어에 대한 매치 생성 구간 배타 락.
// 키는 정렬된 순서로 잡으므로 교착 상태가 생기지 않는다.
type Locker interface {
	LockPair(ctx context.Context, a, b string) (unlock func(), err error)
}

// LocalLocker 단일 프로세스용 키 단위 락
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) LockPair(ctx context.Context, a, b string) (func(), error) {
	keys := sortedPair(a, b)

	var held []string
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			for _, h := range held {
				l.release(h, true)
			}
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				l.release(held[i], true)
			}
		})
	}, nil
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, exists := l.locks[key]
	if !exists {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, false)
		return ctx.Err()
	}
}

func (l *LocalLocker) release(key string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl := l.locks[key]
	if held {
		<-kl.ch
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// sortedPair 중복 제거 후 정렬된 키 목록
func sortedPair(a, b string) []string {
	if a == b {
		return []string{a}
	}
	keys := []string{a, b}
	sort.Strings(keys)
	return keys
}
