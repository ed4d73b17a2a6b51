package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
)

const queueColumns = `player_id, score, joined_at, status`

// PostgresQueueRepository matchmaking_queue 테이블 기반 대기열
type PostgresQueueRepository struct {
	db *database.DB
}

func NewPostgresQueueRepository(db *database.DB) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

// Upsert 대기열에 추가 (재참가 시 joined_at 갱신)
func (r *PostgresQueueRepository) Upsert(ctx context.Context, entry *models.QueueEntry) error {
	query := `
		INSERT INTO matchmaking_queue (player_id, score, joined_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id)
		DO UPDATE SET
			score = EXCLUDED.score,
			joined_at = EXCLUDED.joined_at,
			status = EXCLUDED.status
	`
	_, err := r.db.ExecContext(ctx, query, entry.PlayerID, entry.Score, entry.JoinedAt, entry.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert queue entry: %w", err)
	}
	return nil
}

// Restore 없을 때만 추가 (원래 joined_at 유지)
func (r *PostgresQueueRepository) Restore(ctx context.Context, entry *models.QueueEntry) error {
	query := `
		INSERT INTO matchmaking_queue (player_id, score, joined_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, entry.PlayerID, entry.Score, entry.JoinedAt, entry.Status)
	if err != nil {
		return fmt.Errorf("failed to restore queue entry: %w", err)
	}
	return nil
}

func (r *PostgresQueueRepository) Get(ctx context.Context, playerID string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM matchmaking_queue WHERE player_id = $1`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, playerID))
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresQueueRepository) Delete(ctx context.Context, playerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM matchmaking_queue WHERE player_id = $1`, playerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// Claim DELETE ... RETURNING 으로 한 호출자만 엔트리를 가져간다
func (r *PostgresQueueRepository) Claim(ctx context.Context, observed *models.QueueEntry) (*models.QueueEntry, error) {
	query := `
		DELETE FROM matchmaking_queue
		WHERE player_id = $1 AND score = $2 AND joined_at = $3
		RETURNING ` + queueColumns

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, observed.PlayerID, observed.Score, observed.JoinedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return entry, nil
}

// FindOpponent 점수 범위 내 상대 찾기
func (r *PostgresQueueRepository) FindOpponent(ctx context.Context, playerID string, score, window int) (*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM matchmaking_queue
		WHERE player_id != $1
		  AND status = 'waiting'
		  AND score BETWEEN $2 AND $3
		ORDER BY
			ABS(score - $4) ASC,
			joined_at ASC,
			player_id ASC
		LIMIT 1
	`
	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query,
		playerID,
		score-window,
		score+window,
		score,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find opponent: %w", err)
	}
	return entry, nil
}

func (r *PostgresQueueRepository) CountJoinedBefore(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matchmaking_queue WHERE joined_at < $1`, t,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return count, nil
}

func (r *PostgresQueueRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(score), 0)
		FROM matchmaking_queue
		WHERE status = 'waiting'
	`
	stats := &models.QueueStats{}
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.TotalPlayers, &stats.AverageScore); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return stats, nil
}

// DeleteJoinedBefore 오래된 대기 삭제
func (r *PostgresQueueRepository) DeleteJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	query := `DELETE FROM matchmaking_queue WHERE joined_at < $1 RETURNING ` + queueColumns

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale entries: %w", err)
	}
	defer rows.Close()

	var removed []*models.QueueEntry
	for rows.Next() {
		entry := &models.QueueEntry{}
		if err := rows.Scan(&entry.PlayerID, &entry.Score, &entry.JoinedAt, &entry.Status); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entry.JoinedAt = entry.JoinedAt.UTC()
		removed = append(removed, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale entries: %w", err)
	}
	return removed, nil
}

func scanQueueEntry(row *sql.Row) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{}
	err := row.Scan(&entry.PlayerID, &entry.Score, &entry.JoinedAt, &entry.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.JoinedAt = entry.JoinedAt.UTC()
	return entry, nil
}
