package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/rl-arena-matchmaker/internal/websocket"
)

// WebSocketHandler 매칭 알림 WebSocket 연결 처리
type WebSocketHandler struct {
	hub *websocket.Hub
}

func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleWebSocket player_id 로 연결 등록
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	playerID := c.Query("player_id")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required", "timestamp": time.Now().UTC()})
		return
	}

	websocket.ServeWs(h.hub, c.Writer, c.Request, playerID)
}
