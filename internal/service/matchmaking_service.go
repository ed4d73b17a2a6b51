package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"go.uber.org/zap"
)

const (
	DefaultScoreWindow         = 100
	DefaultExpandedScoreWindow = 200
	DefaultMaxClaimAttempts    = 32

	// MaxScore JSON 정수와 BIGINT 컬럼 모두에서 정확히 표현되는 범위
	MaxScore = 1<<53 - 1
)

// EventPublisher 매칭 이벤트 전달 (웹소켓, Redis Pub/Sub)
type EventPublisher interface {
	Publish(ctx context.Context, event *models.MatchmakingEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *models.MatchmakingEvent) error { return nil }

type MatchmakingConfig struct {
	ScoreWindow         int
	ExpandedScoreWindow int
	MaxClaimAttempts    int
}

// MatchmakingService 대기열 참가, 상대 탐색, 매치 생성/취소, 조회를 담당.
// 요청 사이에 상태를 들고 있지 않으며 모든 상태는 저장소에 있다.
type MatchmakingService struct {
	queueRepo   repository.QueueRepository
	matchRepo   repository.MatchRepository
	locker      Locker
	events      EventPublisher
	logger      *zap.Logger
	windows     []int
	maxAttempts int

	now   func() time.Time
	newID func() string
}

func NewMatchmakingService(
	queueRepo repository.QueueRepository,
	matchRepo repository.MatchRepository,
	locker Locker,
	events EventPublisher,
	logger *zap.Logger,
	cfg MatchmakingConfig,
) *MatchmakingService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScoreWindow <= 0 {
		cfg.ScoreWindow = DefaultScoreWindow
	}
	if cfg.ExpandedScoreWindow < cfg.ScoreWindow {
		cfg.ExpandedScoreWindow = max(DefaultExpandedScoreWindow, cfg.ScoreWindow)
	}
	if cfg.MaxClaimAttempts <= 0 {
		cfg.MaxClaimAttempts = DefaultMaxClaimAttempts
	}

	return &MatchmakingService{
		queueRepo:   queueRepo,
		matchRepo:   matchRepo,
		locker:      locker,
		events:      events,
		logger:      logger,
		windows:     []int{cfg.ScoreWindow, cfg.ExpandedScoreWindow},
		maxAttempts: cfg.MaxClaimAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Validate 대기열 참가 전 검증 (저장소 변경 없음)
func (s *MatchmakingService) Validate(ctx context.Context, playerID string, score int) error {
	if playerID == "" {
		return &ValidationError{PlayerID: playerID, Err: ErrEmptyPlayerID}
	}
	if score < 0 {
		return &ValidationError{PlayerID: playerID, Err: ErrNegativeScore}
	}
	if score > MaxScore {
		return &ValidationError{PlayerID: playerID, Err: ErrScoreTooLarge}
	}

	existing, err := s.queueRepo.Get(ctx, playerID)
	if err != nil {
		s.logger.Error("Failed to check queue entry", zap.String("playerId", playerID), zap.Error(err))
		return readError("get_queue_entry", err)
	}
	if existing != nil {
		return &ValidationError{PlayerID: playerID, Err: ErrAlreadyQueued}
	}
	return nil
}

// Admit 대기열에 upsert. 같은 요청의 재시도는 joined_at 만 갱신한다.
func (s *MatchmakingService) Admit(ctx context.Context, playerID string, score int) error {
	entry := &models.QueueEntry{
		PlayerID: playerID,
		Score:    score,
		JoinedAt: s.now(),
		Status:   models.QueueStatusWaiting,
	}
	if err := s.queueRepo.Upsert(ctx, entry); err != nil {
		serr := writeError("upsert_queue_entry", err)
		s.logger.Error("Failed to add player to queue",
			zap.String("playerId", playerID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return serr
	}
	return nil
}

// Join 검증 → 대기열 추가 → 상대 탐색 및 매치 생성
func (s *MatchmakingService) Join(ctx context.Context, playerID string, score int) (*models.JoinResult, error) {
	if err := s.Validate(ctx, playerID, score); err != nil {
		return nil, err
	}
	if err := s.Admit(ctx, playerID, score); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		opponent, err := s.FindOpponent(ctx, playerID, score)
		if err != nil {
			return nil, err
		}
		if opponent == nil {
			return s.queuedResult(ctx, playerID)
		}

		result, err := s.tryMatch(ctx, playerID, opponent)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		// 상대가 이미 다른 매치에 들어감 → 다시 탐색
		s.logger.Debug("Opponent already taken, retrying search",
			zap.String("playerId", playerID),
			zap.String("opponentId", opponent.PlayerID),
			zap.Int("attempt", attempt))
	}

	s.logger.Warn("Claim attempts exhausted, leaving player queued",
		zap.String("playerId", playerID),
		zap.Int("attempts", s.maxAttempts))
	return s.queuedResult(ctx, playerID)
}

// FindOpponent 점수 범위를 단계적으로 넓혀가며 상대 찾기 (첫 번째 단계 우선)
func (s *MatchmakingService) FindOpponent(ctx context.Context, playerID string, score int) (*models.QueueEntry, error) {
	for _, window := range s.windows {
		opponent, err := s.queueRepo.FindOpponent(ctx, playerID, score, window)
		if err != nil {
			s.logger.Error("Failed to find opponent",
				zap.String("playerId", playerID),
				zap.Int("window", window),
				zap.Error(err))
			return nil, readError("find_opponent", err)
		}
		if opponent != nil {
			s.logger.Debug("Found opponent",
				zap.String("playerId", playerID),
				zap.Int("score", score),
				zap.String("opponentId", opponent.PlayerID),
				zap.Int("opponentScore", opponent.Score),
				zap.Int("window", window))
			return opponent, nil
		}
	}
	return nil, nil
}

// tryMatch 두 플레이어 락 → 두 엔트리 claim → 매치 생성.
// opponent 는 탐색에서 관찰한 엔트리이고, 그 엔트리가 그대로 있을 때만 claim 된다.
// 상대를 가져오지 못하면 nil, nil.
func (s *MatchmakingService) tryMatch(ctx context.Context, playerID string, opponent *models.QueueEntry) (*models.JoinResult, error) {
	result, event, err := s.matchLocked(ctx, playerID, opponent)
	if event != nil {
		// 알림은 락 해제 후
		s.publish(ctx, event)
	}
	return result, err
}

func (s *MatchmakingService) matchLocked(ctx context.Context, playerID string, opponent *models.QueueEntry) (*models.JoinResult, *models.MatchmakingEvent, error) {
	opponentID := opponent.PlayerID

	unlock, err := s.locker.LockPair(ctx, playerID, opponentID)
	if errors.Is(err, distributed.ErrLockNotAcquired) {
		return nil, nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to acquire match lock",
			zap.String("playerId", playerID),
			zap.String("opponentId", opponentID),
			zap.Error(err))
		return nil, nil, &StoreError{Op: "lock_pair", Outcome: OutcomeNotPerformed, Err: err}
	}
	defer unlock()

	self, err := s.queueRepo.Get(ctx, playerID)
	if err != nil {
		s.logger.Error("Failed to re-read queue entry", zap.String("playerId", playerID), zap.Error(err))
		return nil, nil, readError("get_queue_entry", err)
	}
	if self == nil {
		// 락을 잡기 전에 다른 호출자가 이 플레이어를 매칭함
		result, err := s.resolveClaimed(ctx, playerID)
		return result, nil, err
	}

	claimedOpponent, err := s.queueRepo.Claim(ctx, opponent)
	if err != nil {
		serr := writeError("claim_opponent", err)
		s.logger.Error("Failed to claim opponent",
			zap.String("opponentId", opponentID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return nil, nil, serr
	}
	if claimedOpponent == nil {
		// 이미 매칭됐거나, 탈퇴 후 다른 점수로 재참가함
		return nil, nil, nil
	}

	claimedSelf, err := s.queueRepo.Claim(ctx, self)
	if err != nil {
		s.restore(ctx, claimedOpponent)
		serr := writeError("claim_requester", err)
		s.logger.Error("Failed to claim requester",
			zap.String("playerId", playerID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return nil, nil, serr
	}
	if claimedSelf == nil {
		// 탈퇴 또는 만료로 방금 사라짐
		s.restore(ctx, claimedOpponent)
		result, err := s.resolveClaimed(ctx, playerID)
		return result, nil, err
	}

	match := &models.Match{
		ID:        s.newID(),
		Player1ID: playerID,
		Player2ID: opponentID,
		CreatedAt: s.now(),
		Status:    models.MatchStatusActive,
	}
	if err := s.matchRepo.Create(ctx, match); err != nil {
		serr := writeError("create_match", err)
		if serr.Outcome == OutcomeNotPerformed {
			s.restore(ctx, claimedSelf)
			s.restore(ctx, claimedOpponent)
		}
		s.logger.Error("Failed to create match",
			zap.String("player1", playerID),
			zap.String("player2", opponentID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return nil, nil, serr
	}

	s.logger.Info("Match created",
		zap.String("matchId", match.ID),
		zap.String("player1", playerID),
		zap.Int("player1Score", claimedSelf.Score),
		zap.String("player2", opponentID),
		zap.Int("player2Score", claimedOpponent.Score))

	event := &models.MatchmakingEvent{
		Type:      models.EventMatchCreated,
		PlayerIDs: []string{playerID, opponentID},
		Match:     match,
		Timestamp: match.CreatedAt,
	}
	return &models.JoinResult{
		Status:     models.JoinStatusMatched,
		MatchID:    match.ID,
		OpponentID: opponentID,
	}, event, nil
}

// resolveClaimed 엔트리가 사라진 플레이어의 최근 active 매치로 결과 구성
func (s *MatchmakingService) resolveClaimed(ctx context.Context, playerID string) (*models.JoinResult, error) {
	match, err := s.matchRepo.FindActiveByPlayer(ctx, playerID)
	if err != nil {
		s.logger.Error("Failed to look up active match", zap.String("playerId", playerID), zap.Error(err))
		return nil, readError("find_active_match", err)
	}
	if match == nil {
		return nil, &NotFoundError{Resource: "queue entry", ID: playerID, Err: ErrPlayerNotQueued}
	}
	return &models.JoinResult{
		Status:     models.JoinStatusMatched,
		MatchID:    match.ID,
		OpponentID: match.OpponentOf(playerID),
	}, nil
}

// queuedResult 매칭되지 않은 경우 대기 순번 반환
func (s *MatchmakingService) queuedResult(ctx context.Context, playerID string) (*models.JoinResult, error) {
	position, err := s.Position(ctx, playerID)
	if errors.Is(err, ErrPlayerNotQueued) {
		// 탐색 이후 다른 호출자가 매칭함. 그 호출자의 임계 구역이 끝날 때까지 대기
		unlock, lockErr := s.locker.LockPair(ctx, playerID, playerID)
		if lockErr == nil {
			defer unlock()
		}
		return s.resolveClaimed(ctx, playerID)
	}
	if err != nil {
		return nil, err
	}
	return &models.JoinResult{Status: models.JoinStatusQueued, Position: position}, nil
}

// restore claim 한 엔트리를 원래 joined_at 그대로 되돌림
func (s *MatchmakingService) restore(ctx context.Context, entry *models.QueueEntry) {
	if err := s.queueRepo.Restore(ctx, entry); err != nil {
		s.logger.Error("Failed to restore queue entry",
			zap.String("playerId", entry.PlayerID),
			zap.Time("joinedAt", entry.JoinedAt),
			zap.Error(err))
	}
}

// Leave 대기열에서 제거
func (s *MatchmakingService) Leave(ctx context.Context, playerID string) error {
	removed, err := s.queueRepo.Delete(ctx, playerID)
	if err != nil {
		serr := writeError("delete_queue_entry", err)
		s.logger.Error("Failed to remove player from queue",
			zap.String("playerId", playerID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return serr
	}
	if !removed {
		return &NotFoundError{Resource: "queue entry", ID: playerID, Err: ErrPlayerNotQueued}
	}
	return nil
}

// Position 자신보다 먼저 들어온 엔트리 수 + 1. 동시 변경에 대한 격리는 없다.
func (s *MatchmakingService) Position(ctx context.Context, playerID string) (int, error) {
	entry, err := s.queueRepo.Get(ctx, playerID)
	if err != nil {
		s.logger.Error("Failed to get queue entry", zap.String("playerId", playerID), zap.Error(err))
		return 0, readError("get_queue_entry", err)
	}
	if entry == nil {
		return 0, &NotFoundError{Resource: "queue entry", ID: playerID, Err: ErrPlayerNotQueued}
	}

	ahead, err := s.queueRepo.CountJoinedBefore(ctx, entry.JoinedAt)
	if err != nil {
		s.logger.Error("Failed to get queue position", zap.String("playerId", playerID), zap.Error(err))
		return 0, readError("count_queue_entries", err)
	}
	return ahead + 1, nil
}

// Size 대기 중인 플레이어 수
func (s *MatchmakingService) Size(ctx context.Context) (int, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalPlayers, nil
}

// Stats 대기열 통계 (빈 대기열이면 평균 0)
func (s *MatchmakingService) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := s.queueRepo.Stats(ctx)
	if err != nil {
		s.logger.Error("Failed to get queue stats", zap.Error(err))
		return nil, readError("queue_stats", err)
	}
	return stats, nil
}

// QueueStatus 플레이어 순번과 전체 대기 인원
func (s *MatchmakingService) QueueStatus(ctx context.Context, playerID string) (*models.QueueStatusInfo, error) {
	position, err := s.Position(ctx, playerID)
	if err != nil {
		return nil, err
	}
	size, err := s.Size(ctx)
	if err != nil {
		return nil, err
	}
	return &models.QueueStatusInfo{
		PlayerID:  playerID,
		Position:  position,
		QueueSize: size,
	}, nil
}

// MatchDetails 매치 조회
func (s *MatchmakingService) MatchDetails(ctx context.Context, matchID string) (*models.Match, error) {
	match, err := s.matchRepo.FindByID(ctx, matchID)
	if err != nil {
		s.logger.Error("Failed to get match details", zap.String("matchId", matchID), zap.Error(err))
		return nil, readError("find_match", err)
	}
	if match == nil {
		return nil, &NotFoundError{Resource: "match", ID: matchID, Err: ErrMatchNotFound}
	}
	return match, nil
}

// Cancel 매치 취소. 참가자만 가능하며 이미 취소된 매치는 성공(no-op)으로 처리한다.
// 대기열에는 영향이 없다.
func (s *MatchmakingService) Cancel(ctx context.Context, matchID, requesterID string) (*models.CancelResult, error) {
	match, err := s.MatchDetails(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(requesterID) {
		return nil, &AuthorizationError{MatchID: matchID, RequesterID: requesterID}
	}
	if match.Status == models.MatchStatusCancelled {
		return &models.CancelResult{Match: match, AlreadyCancelled: true}, nil
	}

	at := s.now()
	cancelled, err := s.matchRepo.Cancel(ctx, matchID, at)
	if err != nil {
		serr := writeError("cancel_match", err)
		s.logger.Error("Failed to cancel match",
			zap.String("matchId", matchID),
			zap.Stringer("outcome", serr.Outcome),
			zap.Error(err))
		return nil, serr
	}
	if !cancelled {
		// 동시 취소에서 진 경우
		if latest, err := s.matchRepo.FindByID(ctx, matchID); err == nil && latest != nil {
			match = latest
		}
		return &models.CancelResult{Match: match, AlreadyCancelled: true}, nil
	}

	match.Status = models.MatchStatusCancelled
	match.CancelledAt = &at

	s.logger.Info("Match cancelled",
		zap.String("matchId", matchID),
		zap.String("requesterId", requesterID))

	s.publish(ctx, &models.MatchmakingEvent{
		Type:      models.EventMatchCancelled,
		PlayerIDs: []string{match.Player1ID, match.Player2ID},
		Match:     match,
		Timestamp: at,
	})

	return &models.CancelResult{Match: match}, nil
}

func (s *MatchmakingService) publish(ctx context.Context, event *models.MatchmakingEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish matchmaking event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
