package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kballard/go-shellquote"

	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// consoleFrame is the wire format on the WebSocket feed. Exactly one of
// the payload fields is set, keyed by Type.
type consoleFrame struct {
	Type      string             `json:"type"`
	Outbound  *bus.OutboundEvent `json:"outbound,omitempty"`
	Execution *executionNotice   `json:"execution,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// consoleInput is what a console client sends: a chat line attributed to
// a user, optionally a slash command.
type consoleInput struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Client is a connected WebSocket console session.
type Client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan consoleFrame
	done   chan struct{}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:     uuid.NewString()[:8],
		server: s,
		conn:   conn,
		send:   make(chan consoleFrame, 64),
		done:   make(chan struct{}),
	}

	if !s.registerClient(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "server full"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.wg.Add(2)
	go client.writePump()
	go client.readPump()
}

// readPump reads console input and publishes it on the inbound bus.
// One goroutine per connection; the pump owns all reads.
func (c *Client) readPump() {
	defer func() {
		c.server.wg.Done()
		c.server.unregisterClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warnw("Console read error", "client_id", c.id, "error", err)
			}
			return
		}

		var input consoleInput
		if err := json.Unmarshal(raw, &input); err != nil {
			c.sendFrame(consoleFrame{Type: "error", Error: "invalid frame: " + err.Error()})
			continue
		}
		if input.UserID == "" || strings.TrimSpace(input.Text) == "" {
			c.sendFrame(consoleFrame{Type: "error", Error: "user_id and text are required"})
			continue
		}
		if input.ChatID == "" {
			input.ChatID = input.UserID
		}

		ev, err := parseConsoleInput(input)
		if err != nil {
			c.sendFrame(consoleFrame{Type: "error", Error: err.Error()})
			continue
		}

		if err := c.server.inbound.Publish(ev); err != nil {
			c.sendFrame(consoleFrame{Type: "error", Error: "engine busy, try again"})
		}
	}
}

// parseConsoleInput turns a console line into an inbound event. Lines
// starting with "/" are commands; shell quoting applies to arguments.
func parseConsoleInput(input consoleInput) (bus.InboundEvent, error) {
	ev := bus.InboundEvent{
		Kind:      bus.InboundMessage,
		UserID:    input.UserID,
		ChatID:    input.ChatID,
		MessageID: uuid.NewString(),
		Text:      input.Text,
		At:        time.Now(),
	}

	text := strings.TrimSpace(input.Text)
	if !strings.HasPrefix(text, "/") {
		return ev, nil
	}

	parts, err := shellquote.Split(strings.TrimPrefix(text, "/"))
	if err != nil {
		return bus.InboundEvent{}, err
	}
	if len(parts) == 0 {
		return bus.InboundEvent{}, errors.NewInvalidInputf("empty command")
	}
	ev.Kind = bus.InboundCommand
	ev.Command = parts[0]
	ev.Params = parts[1:]
	return ev, nil
}

// writePump serializes all writes for one connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			return
		}
	}
}

// sendFrame queues a frame, dropping it if the client is slow.
func (c *Client) sendFrame(frame consoleFrame) {
	select {
	case c.send <- frame:
	default:
		c.server.logger.Warnw("Dropping frame for slow client", "client_id", c.id)
	}
}

func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
