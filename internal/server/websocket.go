package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/sw/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to localhost; cross-origin pages on the same
		// machine are the expected dashboard case.
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	eventBufferLen = 64
)

// handleWebSocket streams hub events to one client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := newClientID()
	sub := hub.NewChannelSubscriber(clientID, eventBufferLen)
	s.hub.Subscribe(sub)
	s.trackConnection(1)
	s.logger.Info("observe client connected", "client_id", clientID, "remote", r.RemoteAddr)

	defer func() {
		s.hub.Unsubscribe(clientID)
		s.trackConnection(-1)
		conn.Close()
		s.logger.Info("observe client disconnected", "client_id", clientID)
	}()

	// Reader: the client sends nothing meaningful, but reads are needed
	// to process control frames and notice the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-sub.Done():
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := event.ToJSON()
			if err != nil {
				s.logger.Warn("event serialization failed", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
