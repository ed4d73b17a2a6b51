package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
)

const matchColumns = `id, player1_id, player2_id, created_at, status, cancelled_at`

// PostgresMatchRepository matches 테이블 기반 매치 저장소
type PostgresMatchRepository struct {
	db *database.DB
}

func NewPostgresMatchRepository(db *database.DB) *PostgresMatchRepository {
	return &PostgresMatchRepository{db: db}
}

// Create 새 매치 저장
func (r *PostgresMatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches (id, player1_id, player2_id, created_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		match.ID,
		match.Player1ID,
		match.Player2ID,
		match.CreatedAt,
		match.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

// FindByID ID로 매치 찾기
func (r *PostgresMatchRepository) FindByID(ctx context.Context, id string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	return match, nil
}

// FindActiveByPlayer 플레이어의 최근 active 매치
func (r *PostgresMatchRepository) FindActiveByPlayer(ctx context.Context, playerID string) (*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE (player1_id = $1 OR player2_id = $1)
		  AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`
	match, err := scanMatch(r.db.QueryRowContext(ctx, query, playerID))
	if err != nil {
		return nil, fmt.Errorf("failed to find active match: %w", err)
	}
	return match, nil
}

// Cancel active → cancelled 조건부 전환
func (r *PostgresMatchRepository) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel match: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func scanMatch(row *sql.Row) (*models.Match, error) {
	match := &models.Match{}
	var cancelledAt sql.NullTime
	err := row.Scan(
		&match.ID,
		&match.Player1ID,
		&match.Player2ID,
		&match.CreatedAt,
		&match.Status,
		&cancelledAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	match.CreatedAt = match.CreatedAt.UTC()
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		match.CancelledAt = &t
	}
	return match, nil
}
