package models

import "time"

type EventType string

const (
	EventMatchCreated   EventType = "match_created"
	EventMatchCancelled EventType = "match_cancelled"
	EventQueueExpired   EventType = "queue_expired"
)

// MatchmakingEvent 플레이어에게 전달되는 매칭 이벤트
type MatchmakingEvent struct {
	Type      EventType `json:"type"`
	PlayerIDs []string  `json:"player_ids"`
	Match     *Match    `json:"match,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
