package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: db}, mock
}

var queueCols = []string{"player_id", "score", "joined_at", "status"}

func TestPostgresQueue_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresQueueRepository(db)
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO matchmaking_queue .* ON CONFLICT \(player_id\)\s+DO UPDATE`).
		WithArgs("p1", 500, joined, "waiting").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.QueueEntry{
		PlayerID: "p1", Score: 500, JoinedAt: joined, Status: models.QueueStatusWaiting,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim(t *testing.T) {
	ctx := context.Background()
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("KST", 9*3600))
	observed := &models.QueueEntry{PlayerID: "p1", Score: 500, JoinedAt: joined, Status: models.QueueStatusWaiting}
	claimQuery := `DELETE FROM matchmaking_queue WHERE player_id = \$1 AND score = \$2 AND joined_at = \$3 RETURNING`

	t.Run("가져간 엔트리 반환 (UTC)", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresQueueRepository(db)

		mock.ExpectQuery(claimQuery).
			WithArgs("p1", 500, joined).
			WillReturnRows(sqlmock.NewRows(queueCols).AddRow("p1", 500, joined, "waiting"))

		entry, err := repo.Claim(ctx, observed)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, 500, entry.Score)
		assert.Equal(t, time.UTC, entry.JoinedAt.Location())
		assert.True(t, joined.Equal(entry.JoinedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("없거나 재참가로 바뀌었으면 nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresQueueRepository(db)

		mock.ExpectQuery(claimQuery).
			WithArgs("p1", 500, joined).
			WillReturnRows(sqlmock.NewRows(queueCols))

		entry, err := repo.Claim(ctx, observed)
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("연결 예외 SQLSTATE 는 NotAttempted", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresQueueRepository(db)

		mock.ExpectQuery(claimQuery).
			WithArgs("p1", 500, joined).
			WillReturnError(&pq.Error{Code: "08006"})

		_, err := repo.Claim(ctx, observed)
		require.Error(t, err)
		assert.True(t, NotAttempted(err))
	})
}

func TestNotAttempted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("failed to claim queue entry: %w", driver.ErrBadConn), true},
		{"conn done", fmt.Errorf("failed to upsert queue entry: %w", sql.ErrConnDone), true},
		{"pq 연결 예외", fmt.Errorf("wrap: %w", &pq.Error{Code: "08001"}), true},
		{"pq 제약 위반", fmt.Errorf("wrap: %w", &pq.Error{Code: "23505"}), false},
		{"pgx 연결 예외", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "08006"}), true},
		{"pgx 범위 초과", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "22003"}), false},
		{"mongo 연결 해제", fmt.Errorf("wrap: %w", mongo.ErrClientDisconnected), true},
		{"타임아웃", fmt.Errorf("wrap: %w", context.DeadlineExceeded), false},
		{"기타", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NotAttempted(tt.err))
		})
	}
}

func TestPostgresQueue_FindOpponent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresQueueRepository(db)
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`score BETWEEN \$2 AND \$3`).
		WithArgs("me", 400, 600, 500).
		WillReturnRows(sqlmock.NewRows(queueCols).AddRow("opp", 560, joined, "waiting"))

	entry, err := repo.FindOpponent(context.Background(), "me", 500, 100)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "opp", entry.PlayerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_StatsAndCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresQueueRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(AVG\(score\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(3, 412.5))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM matchmaking_queue WHERE joined_at < \$1`).
		WithArgs(at).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalPlayers)
	assert.InDelta(t, 412.5, stats.AverageScore, 0.001)

	count, err := repo.CountJoinedBefore(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_DeleteAndSweep(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresQueueRepository(db)
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM matchmaking_queue WHERE player_id = \$1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`DELETE FROM matchmaking_queue WHERE joined_at < \$1 RETURNING`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("a", 100, cutoff.Add(-10*time.Minute), "waiting").
			AddRow("b", 200, cutoff.Add(-6*time.Minute), "waiting"))

	removed, err := repo.Delete(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)

	stale, err := repo.DeleteJoinedBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "a", stale[0].PlayerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var matchCols = []string{"id", "player1_id", "player2_id", "created_at", "status", "cancelled_at"}

func TestPostgresMatch_CreateAndFind(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMatchRepository(db)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO matches`).
		WithArgs("m1", "a", "b", created, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM matches WHERE id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(matchCols).AddRow("m1", "a", "b", created, "active", nil))
	mock.ExpectQuery(`FROM matches WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.Create(ctx, &models.Match{
		ID: "m1", Player1ID: "a", Player2ID: "b", CreatedAt: created, Status: models.MatchStatusActive,
	})
	require.NoError(t, err)

	m, err := repo.FindByID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.MatchStatusActive, m.Status)
	assert.Nil(t, m.CancelledAt)

	m, err = repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMatch_Cancel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMatchRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	mock.ExpectExec(`WHERE id = \$1 AND status = 'active'`).
		WithArgs("m1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`WHERE id = \$1 AND status = 'active'`).
		WithArgs("m1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Cancel(ctx, "m1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(ctx, "m1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
