package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"go.uber.org/zap"
)

const (
	DefaultQueueTimeout = 5 * time.Minute
	reaperLockKey       = "matchmaking:lock:reaper"
)

// SweepLock 여러 인스턴스 중 하나만 주기 정리를 수행하도록 하는 락
type SweepLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ReaperService 오래 대기한 엔트리 정리.
// Sweep 은 외부 호출용이고, Start 는 interval 주기로 Sweep 을 실행한다.
type ReaperService struct {
	queueRepo repository.QueueRepository
	events    EventPublisher
	lock      SweepLock
	logger    *zap.Logger
	timeout   time.Duration
	interval  time.Duration
	now       func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewReaperService(
	queueRepo repository.QueueRepository,
	events EventPublisher,
	lock SweepLock,
	logger *zap.Logger,
	timeout time.Duration,
	interval time.Duration,
) *ReaperService {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}

	return &ReaperService{
		queueRepo: queueRepo,
		events:    events,
		lock:      lock,
		logger:    logger,
		timeout:   timeout,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		stopChan:  make(chan struct{}),
	}
}

// Timeout 기본 만료 시간
func (r *ReaperService) Timeout() time.Duration {
	return r.timeout
}

// Sweep joined_at 이 now-timeout 보다 이전인 엔트리 삭제. timeout <= 0 이면 기본값.
// 삭제는 키 기준이라 동시 매칭과 겹쳐도 안전하다.
func (r *ReaperService) Sweep(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = r.timeout
	}
	now := r.now()
	cutoff := now.Add(-timeout)

	removed, err := r.queueRepo.DeleteJoinedBefore(ctx, cutoff)
	if err != nil {
		serr := writeError("delete_stale_entries", err)
		r.logger.Error("Failed to clean stale queue entries",
			zap.Time("cutoff", cutoff),
			zap.Int("removedBeforeError", len(removed)),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return int64(len(removed)), serr
	}

	if len(removed) > 0 {
		r.logger.Info("Cleaned stale queue entries",
			zap.Int("count", len(removed)),
			zap.Duration("timeout", timeout))
	}

	for _, entry := range removed {
		r.publishExpired(ctx, entry, now)
	}
	return int64(len(removed)), nil
}

func (r *ReaperService) publishExpired(ctx context.Context, entry *models.QueueEntry, at time.Time) {
	err := r.events.Publish(ctx, &models.MatchmakingEvent{
		Type:      models.EventQueueExpired,
		PlayerIDs: []string{entry.PlayerID},
		Timestamp: at,
	})
	if err != nil {
		r.logger.Warn("Failed to publish queue expiry", zap.String("playerId", entry.PlayerID), zap.Error(err))
	}
}

// Start 주기 정리 시작 (interval <= 0 이면 아무것도 하지 않음)
func (r *ReaperService) Start() {
	r.mu.Lock()
	if r.running || r.interval <= 0 {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("Starting ReaperService",
		zap.Duration("interval", r.interval),
		zap.Duration("timeout", r.timeout))

	r.wg.Add(1)
	go r.loop()
}

// Stop 주기 정리 중지
func (r *ReaperService) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("ReaperService stopped")
}

func (r *ReaperService) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-r.stopChan:
			return
		}
	}
}

func (r *ReaperService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if r.lock != nil {
		unlock, err := r.lock.TryLock(ctx, reaperLockKey, r.interval)
		if errors.Is(err, distributed.ErrLockNotAcquired) {
			r.logger.Debug("Another instance is sweeping")
			return
		}
		if err != nil {
			r.logger.Error("Failed to acquire reaper lock", zap.Error(err))
			return
		}
		defer unlock()
	}

	// 에러는 Sweep 에서 이미 기록됨
	_, _ = r.Sweep(ctx, 0)
}
