package models

import "time"

type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match 두 플레이어의 매치 기록. 생성 후에는 취소로만 변경된다.
type Match struct {
	ID          string      `json:"match_id" db:"id" bson:"_id"`
	Player1ID   string      `json:"player1_id" db:"player1_id" bson:"player1_id"`
	Player2ID   string      `json:"player2_id" db:"player2_id" bson:"player2_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at" bson:"created_at"`
	Status      MatchStatus `json:"status" db:"status" bson:"status"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty" db:"cancelled_at" bson:"cancelled_at,omitempty"`
}

// HasPlayer 매치 참가자인지 확인
func (m *Match) HasPlayer(playerID string) bool {
	return m.Player1ID == playerID || m.Player2ID == playerID
}

// OpponentOf 상대 플레이어 ID (참가자가 아니면 빈 문자열)
func (m *Match) OpponentOf(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}
