package studio

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ad-canvas-server/modules/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 16
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// 브라우저 → 서버 메시지
type inboundMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket - GET /ws?session=<id>
// session 이 없으면 새 ID 를 만들어 첫 메시지로 알려줌
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	sessionId := r.URL.Query().Get("session")
	if sessionId == "" {
		sessionId = uuid.NewString()
	}

	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
	}

	logger.Infof("🔍 New WebSocket connection - Session: %s, Client: %s", sessionId, client.id)

	session := h.manager.GetOrCreate(sessionId)
	session.addClient(client)

	go client.writePump()
	go client.readPump(session)
}

// 클라이언트로부터 메시지 읽기
func (c *Client) readPump(session *Session) {
	defer func() {
		session.removeClient(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var message inboundMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket error: %v", err)
			}
			return
		}

		switch message.Type {
		case "reset":
			logger.Infof("🆕 Client %s requested New Design in session %s", c.id, session.id)
			if _, err := session.Fire(EventReset, ""); err != nil {
				session.sendTo(c.id, Message{Type: "error", SessionId: session.id, Error: err.Error()})
			}

		case "ping":
			session.touch(session.now())
			session.sendTo(c.id, Message{Type: "pong", SessionId: session.id})

		case "get_state":
			session.sendState(c.id)

		default:
			session.sendTo(c.id, Message{Type: "error", SessionId: session.id, Error: "unknown message type: " + message.Type})
		}
	}
}

// 클라이언트로 메시지 쓰기
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warnf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
