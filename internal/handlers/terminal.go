package handlers

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/terminal"
)

// TerminalHandler exposes the streaming WebSocket transport. Any number of
// clients can attach to the same session; each gets the buffered history
// followed by live output.
type TerminalHandler struct {
	registry *terminal.Registry
	cfg      *config.Config
}

// NewTerminalHandler creates a new terminal transport handler
func NewTerminalHandler(registry *terminal.Registry, cfg *config.Config) *TerminalHandler {
	return &TerminalHandler{registry: registry, cfg: cfg}
}

// RegisterRoutes registers the WebSocket attach route
func (h *TerminalHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Use("/sessions/:id/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/sessions/:id/ws", websocket.New(h.handleConn))
}

// wsClient adapts one WebSocket connection to a session viewer. Writes are
// serialized by writeMu since fan-out and the ping loop both send.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	lastPong time.Time
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(msg models.ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) markPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *wsClient) sincePong() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// handleConn runs one attached client: history replay on attach, then a read
// loop for input, resize, and pong messages, with an application-level ping
// cycle that drops unresponsive clients.
func (h *TerminalHandler) handleConn(conn *websocket.Conn) {
	id := conn.Params("id")
	sess, err := h.registry.Get(id)
	if err != nil {
		_ = conn.WriteJSON(fiber.Map{"error": "session not found"})
		conn.Close()
		return
	}

	client := &wsClient{
		id:       uuid.New().String(),
		conn:     conn,
		lastPong: time.Now(),
	}

	logger.Debugf("client %s attaching to session %s", client.id, id)
	sess.Attach(client)
	defer func() {
		sess.Detach(client.id)
		conn.Close()
		logger.Debugf("client %s detached from session %s", client.id, id)
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(client, stopPing)

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case models.MsgInput:
			if err := sess.Write([]byte(msg.Data)); err != nil {
				logger.Debugf("input to session %s rejected: %v", id, err)
			}
		case models.MsgResize:
			if msg.Cols > 0 && msg.Rows > 0 {
				if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
					logger.Debugf("resize of session %s rejected: %v", id, err)
				}
			}
		case models.MsgPong:
			client.markPong()
		default:
			logger.Debugf("ignoring unknown client message type %q", msg.Type)
		}
	}
}

// pingLoop sends periodic pings and closes the connection when the client
// stops answering. The read loop then unwinds and detaches the client.
func (h *TerminalHandler) pingLoop(client *wsClient, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if client.sincePong() > h.cfg.PingInterval+h.cfg.PongTimeout {
				logger.Debugf("client %s pong timeout", client.id)
				client.conn.Close()
				return
			}
			if err := client.Send(models.ServerMessage{Type: models.MsgPing}); err != nil {
				client.conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}
