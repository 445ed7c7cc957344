package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attendo/kiosk-engine/internal/outcome"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

func buildCheckOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
			continue
		}
		set[o] = true
	}
	if allowAll {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[origin]
	}
}

// newOutcomesHandler returns a handler that upgrades to a websocket and
// streams every outcome.Bus event to the connection until it closes.
func newOutcomesHandler(bus outcome.Bus, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     buildCheckOrigin(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("httpapi: websocket upgrade failed", "error", err)
			return
		}
		send := make(chan []byte, sendBuffer)
		unsub := bus.Subscribe(func(_ context.Context, o *outcome.Outcome) error {
			data, err := json.Marshal(o)
			if err != nil {
				return err
			}
			select {
			case send <- data:
			default:
				slog.Warn("httpapi: outcomes subscriber too slow, dropping event", "type", o.Type)
			}
			return nil
		})
		go serveOutcomesConnection(conn, send, unsub)
	}
}

// serveOutcomesConnection owns the connection's full lifecycle: a ping
// ticker to keep it alive, a read loop solely to detect client-initiated
// close (the kiosk screen never sends us anything), and a write loop that
// drains send until the connection or the subscription ends.
func serveOutcomesConnection(conn *websocket.Conn, send chan []byte, unsub func()) {
	defer func() {
		unsub()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
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
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
