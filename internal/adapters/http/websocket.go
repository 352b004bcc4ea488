package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/civicmap/internal/adapters/liveview"
)

const (
	livePingInterval = 30 * time.Second
	liveWriteTimeout = 10 * time.Second
	liveMaxMessage   = 64 << 10
)

// wsTransport serializes writes to one socket; the keep-alive ping and the
// session share it.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// LiveUpgradeGuard rejects plain HTTP requests and malformed client ids
// before the socket is upgraded.
func LiveUpgradeGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if id := c.Query("client_id"); id != "" {
			if err := validClientID(id); err != nil {
				return errBadRequest(c, err.Error())
			}
		}
		c.Locals("client_id", c.Query("client_id"))
		return c.Next()
	}
}

// LiveHandler runs one live map session per socket. Browser messages are
// handed to the session; the session writes commands and state back through
// the same socket.
func LiveHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		clientID, _ := c.Locals("client_id").(string)
		remoteAddr := c.RemoteAddr().String()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := &wsTransport{conn: c}
		sess := deps.Hub.Open(ctx, clientID, out)
		logger := slog.With("session_id", sess.ID(), "client_id", sess.ClientID())
		logger.Info("live session opened", "remote_addr", remoteAddr)

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(livePingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := out.ping(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		c.SetReadLimit(liveMaxMessage)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var in liveview.Inbound
			if err := json.Unmarshal(msg, &in); err != nil {
				_ = out.WriteJSON(liveview.Outbound{Type: liveview.TypeAlert, Message: "invalid message"})
				continue
			}
			if err := sess.Handle(in); err != nil {
				logger.Debug("live message rejected", "type", in.Type, "event", in.Event, "error", err)
			}
		}

		// Cleanup
		close(done)
		deps.Hub.Close(sess)
		logger.Info("live session closed", "remote_addr", remoteAddr)
	}
}
