package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
)

type DB struct {
	*sql.DB
}

// Connect 데이터베이스 연결 (driver: "postgres" 또는 "pgx")
func Connect(driver, databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	if driver != "postgres" && driver != "pgx" {
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 연결 풀 설정
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 연결 테스트
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected successfully", "driver", driver)

	return &DB{db}, nil
}

// Close 데이터베이스 연결 종료
func (db *DB) Close() error {
	return db.DB.Close()
}

// Ping 헬스체크용 연결 확인
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS matchmaking_queue (
		player_id TEXT PRIMARY KEY,
		score     BIGINT NOT NULL CHECK (score >= 0),
		joined_at TIMESTAMPTZ NOT NULL,
		status    TEXT NOT NULL DEFAULT 'waiting'
	)`,
	`ALTER TABLE matchmaking_queue ALTER COLUMN score TYPE BIGINT`,
	`CREATE INDEX IF NOT EXISTS idx_matchmaking_queue_joined_at ON matchmaking_queue (joined_at)`,
	`CREATE INDEX IF NOT EXISTS idx_matchmaking_queue_score ON matchmaking_queue (status, score)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id           TEXT PRIMARY KEY,
		player1_id   TEXT NOT NULL,
		player2_id   TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		status       TEXT NOT NULL DEFAULT 'active',
		cancelled_at TIMESTAMPTZ,
		CHECK (player1_id <> player2_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches (player1_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches (player2_id, created_at DESC)`,
}

// Migrate 테이블/인덱스 생성 (idempotent)
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
