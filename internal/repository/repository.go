package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// QueueRepository 매칭 대기열 저장소.
// 조회 메서드는 레코드가 없으면 nil, nil 을 반환한다.
type QueueRepository interface {
	// Upsert player_id 기준으로 삽입 또는 덮어쓰기
	Upsert(ctx context.Context, entry *models.QueueEntry) error
	// Restore 없을 때만 삽입 (claim 이후 되돌리기용)
	Restore(ctx context.Context, entry *models.QueueEntry) error
	Get(ctx context.Context, playerID string) (*models.QueueEntry, error)
	Delete(ctx context.Context, playerID string) (bool, error)
	// Claim 관찰한 엔트리(player_id, score, joined_at)가 그대로 있을 때만 원자적으로
	// delete-and-return. 다른 호출자가 먼저 가져갔거나 재참가로 바뀌었으면 nil
	Claim(ctx context.Context, observed *models.QueueEntry) (*models.QueueEntry, error)
	// FindOpponent |score 차이| <= window 인 대기 엔트리 중
	// 점수 차이, joined_at, player_id 순으로 첫 번째
	FindOpponent(ctx context.Context, playerID string, score, window int) (*models.QueueEntry, error)
	CountJoinedBefore(ctx context.Context, t time.Time) (int, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	// DeleteJoinedBefore joined_at < cutoff 인 엔트리 삭제 후 삭제된 엔트리 반환
	DeleteJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error)
}

// MatchRepository 매치 저장소. 매치는 삭제되지 않는다.
type MatchRepository interface {
	Create(ctx context.Context, match *models.Match) error
	FindByID(ctx context.Context, id string) (*models.Match, error)
	// FindActiveByPlayer 플레이어가 참가한 가장 최근의 active 매치
	FindActiveByPlayer(ctx context.Context, playerID string) (*models.Match, error)
	// Cancel active 상태일 때만 cancelled 로 전환. 전환했으면 true
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
}

// NotAttempted 요청이 저장소에 도달하기 전에 실패한 에러인지 판별.
// true 면 변경 작업이 수행되지 않았음이 확실하다.
func NotAttempted(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	// SQLSTATE class 08: connection exception
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}

	if errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var selErr topology.ServerSelectionError
	return errors.As(err, &selErr)
}
