package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"go.uber.org/zap"
)

// Hub 플레이어별 WebSocket 연결 관리 및 매칭 알림 전달
type Hub struct {
	// 플레이어별 연결 저장 (playerID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	deliver    chan *Message
	register   chan *Client
	unregister chan *Client

	// Run 종료 시 닫힘
	done chan struct{}

	logger *zap.Logger
}

// ErrHubStopped Run 이 끝난 Hub 로 전송
var ErrHubStopped = errors.New("websocket hub stopped")

// Message WebSocket 메시지
type Message struct {
	PlayerID string      `json:"-"` // 수신자
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
}

// MatchNotification 매치 생성/취소 알림
type MatchNotification struct {
	MatchID     string     `json:"match_id"`
	OpponentID  string     `json:"opponent_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// QueueExpiredNotification 대기 만료 알림
type QueueExpiredNotification struct {
	PlayerID  string    `json:"player_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		deliver:    make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run ctx 종료까지 등록/해제/전달 처리
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.deliver:
			h.sendMessage(message)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 같은 플레이어의 기존 연결은 교체
	if old, exists := h.clients[client.playerID]; exists {
		close(old.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("playerId", client.playerID))
	}

	h.clients[client.playerID] = client
	h.logger.Info("WebSocket client registered",
		zap.String("playerId", client.playerID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 교체된 연결의 해제 요청이면 무시
	if current, exists := h.clients[client.playerID]; exists && current == client {
		delete(h.clients, client.playerID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("playerId", client.playerID),
			zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

func (h *Hub) sendMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[message.PlayerID]
	if !exists {
		return
	}
	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full",
			zap.String("playerId", message.PlayerID))
	}
}

// Connected 현재 연결된 플레이어 수
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToPlayer 특정 플레이어에게 메시지 전송
func (h *Hub) SendToPlayer(ctx context.Context, playerID, msgType string, payload interface{}) error {
	select {
	case h.deliver <- &Message{PlayerID: playerID, Type: msgType, Payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 이벤트를 관련 플레이어들에게 전달
func (h *Hub) Publish(ctx context.Context, event *models.MatchmakingEvent) error {
	for _, playerID := range event.PlayerIDs {
		if err := h.SendToPlayer(ctx, playerID, string(event.Type), notificationFor(event, playerID)); err != nil {
			return err
		}
	}
	return nil
}

// Deliver 이벤트 버스 수신 핸들러
func (h *Hub) Deliver(event *models.MatchmakingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := h.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to deliver matchmaking event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func notificationFor(event *models.MatchmakingEvent, playerID string) interface{} {
	if event.Match == nil {
		return QueueExpiredNotification{PlayerID: playerID, ExpiredAt: event.Timestamp}
	}

	m := event.Match
	return MatchNotification{
		MatchID:     m.ID,
		OpponentID:  m.OpponentOf(playerID),
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		CancelledAt: m.CancelledAt,
	}
}
