package models

import "time"

type QueueStatus string

const (
	QueueStatusWaiting QueueStatus = "waiting"
)

// QueueEntry 매칭 대기 중인 플레이어 (player_id 당 최대 1개)
type QueueEntry struct {
	PlayerID string      `json:"player_id" db:"player_id" bson:"player_id"`
	Score    int         `json:"score" db:"score" bson:"score"`
	JoinedAt time.Time   `json:"joined_at" db:"joined_at" bson:"joined_at"`
	Status   QueueStatus `json:"status" db:"status" bson:"status"`
}

// QueueStats 대기열 통계
type QueueStats struct {
	TotalPlayers int     `json:"total_players"`
	AverageScore float64 `json:"average_score"`
}

type JoinStatus string

const (
	JoinStatusMatched JoinStatus = "matched"
	JoinStatusQueued  JoinStatus = "queued"
)

// JoinResult 큐 참가 결과. Matched면 MatchID/OpponentID, Queued면 Position이 채워진다.
type JoinResult struct {
	Status     JoinStatus `json:"status"`
	MatchID    string     `json:"match_id,omitempty"`
	OpponentID string     `json:"opponent_id,omitempty"`
	Position   int        `json:"position,omitempty"`
}

// QueueStatusInfo 플레이어의 대기열 위치 정보
type QueueStatusInfo struct {
	PlayerID  string `json:"player_id"`
	Position  int    `json:"position"`
	QueueSize int    `json:"queue_size"`
}

// CancelResult 매치 취소 결과
type CancelResult struct {
	Match            *Match `json:"match"`
	AlreadyCancelled bool   `json:"already_cancelled"`
}
