package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // pongWait 보다 짧아야 함
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client WebSocket 클라이언트
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send     chan *Message
	playerID string
	logger   *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, playerID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan *Message, 32),
		playerID: playerID,
		logger:   hub.logger,
	}
}

// readPump 클라이언트로부터 메시지 읽기 (핑/퐁 유지)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					zap.String("playerId", c.playerID),
					zap.Error(err))
			}
			break
		}
		// 서버 -> 클라이언트 단방향
	}
}

// writePump Hub로부터 메시지를 받아 클라이언트에게 전송
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub가 채널을 닫음
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// JSON으로 인코딩
			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to marshal message",
					zap.String("playerId", c.playerID),
					zap.Error(err))
				continue
			}

			// 메시지 전송
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write message",
					zap.String("playerId", c.playerID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			// Ping 전송
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs 연결 업그레이드 후 playerID 로 등록
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, playerID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("Failed to upgrade WebSocket connection",
			zap.String("playerId", playerID),
			zap.Error(err))
		return
	}

	client := newClient(hub, conn, playerID)
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	// 고루틴 시작
	go client.writePump()
	go client.readPump()
}
