package service

import (
	"context"
	"sync"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"go.uber.org/zap"
)

// fakeClock 호출할 때마다 step 만큼 진행하는 테스트 시계
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), step: time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingPublisher 발행된 이벤트 기록
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.MatchmakingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *models.MatchmakingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t models.EventType) []*models.MatchmakingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.MatchmakingEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	queue  *repository.MemoryQueueRepository
	match  *repository.MemoryMatchRepository
	events *recordingPublisher
	clock  *fakeClock
	svc    *MatchmakingService
	reaper *ReaperService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		queue:  repository.NewMemoryQueueRepository(),
		match:  repository.NewMemoryMatchRepository(),
		events: &recordingPublisher{},
		clock:  newFakeClock(),
	}
	env.svc = newTestService(env.queue, env.match, env.events, env.clock)
	env.reaper = NewReaperService(env.queue, env.events, nil, zap.NewNop(), DefaultQueueTimeout, 0)
	env.reaper.now = env.clock.Now
	return env
}

func newTestService(q repository.QueueRepository, m repository.MatchRepository, events EventPublisher, clock *fakeClock) *MatchmakingService {
	svc := NewMatchmakingService(q, m, NewLocalLocker(), events, zap.NewNop(), MatchmakingConfig{})
	svc.now = clock.Now
	return svc
}

// seed 매칭 시도 없이 대기열에 직접 추가
func (e *testEnv) seed(playerID string, score int) *models.QueueEntry {
	entry := &models.QueueEntry{
		PlayerID: playerID,
		Score:    score,
		JoinedAt: e.clock.Now(),
		Status:   models.QueueStatusWaiting,
	}
	_ = e.queue.Upsert(context.Background(), entry)
	return entry
}

// faultyQueueRepository 특정 플레이어의 Claim/Get 실패와 Claim 직전 동작 주입
type faultyQueueRepository struct {
	repository.QueueRepository
	claimErr map[string]error
	// beforeClaim 해당 플레이어의 첫 Claim 직전에 한 번 실행
	beforeClaim map[string]func()
	// getErrAt 해당 플레이어의 n 번째 Get 부터 실패
	getErrAt map[string]int
	getErr   error

	mu       sync.Mutex
	getCalls map[string]int
}

func (r *faultyQueueRepository) Claim(ctx context.Context, observed *models.QueueEntry) (*models.QueueEntry, error) {
	if err, ok := r.claimErr[observed.PlayerID]; ok {
		return nil, err
	}
	r.mu.Lock()
	hook := r.beforeClaim[observed.PlayerID]
	delete(r.beforeClaim, observed.PlayerID)
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r.QueueRepository.Claim(ctx, observed)
}

func (r *faultyQueueRepository) Get(ctx context.Context, playerID string) (*models.QueueEntry, error) {
	r.mu.Lock()
	if r.getCalls == nil {
		r.getCalls = make(map[string]int)
	}
	r.getCalls[playerID]++
	n := r.getCalls[playerID]
	r.mu.Unlock()

	if at, ok := r.getErrAt[playerID]; ok && n >= at {
		return nil, r.getErr
	}
	return r.QueueRepository.Get(ctx, playerID)
}

// faultyMatchRepository Create 실패 주입
type faultyMatchRepository struct {
	repository.MatchRepository
	createErr error
}

func (r *faultyMatchRepository) Create(ctx context.Context, match *models.Match) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.MatchRepository.Create(ctx, match)
}

// observingMatchRepository 매치 생성 시점에 두 플레이어의 대기열 엔트리 확인
type observingMatchRepository struct {
	repository.MatchRepository
	queue repository.QueueRepository

	mu         sync.Mutex
	violations []string
}

func (r *observingMatchRepository) Create(ctx context.Context, match *models.Match) error {
	for _, id := range []string{match.Player1ID, match.Player2ID} {
		if entry, _ := r.queue.Get(ctx, id); entry != nil {
			r.mu.Lock()
			r.violations = append(r.violations, id)
			r.mu.Unlock()
		}
	}
	return r.MatchRepository.Create(ctx, match)
}
