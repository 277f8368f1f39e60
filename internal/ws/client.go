package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"pipeline-cloud/backend/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

// pushMessage is the server-to-client frame: the event name plus its
// payload.
type pushMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// controlMessage is the client-to-server frame for group membership.
type controlMessage struct {
	Event     string `json:"event"`
	ProjectID string `json:"project_id"`
}

// Client is one live subscriber connection. It implements hub.Subscriber;
// delivery is best-effort and a full send buffer drops the message instead
// of blocking the publisher.
type Client struct {
	conn   *websocket.Conn
	hub    *hub.Hub
	logger *slog.Logger
	send   chan pushMessage
	done   chan struct{}
}

func newClient(conn *websocket.Conn, h *hub.Hub, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    h,
		logger: logger,
		send:   make(chan pushMessage, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Notify queues an event for delivery to this client.
func (c *Client) Notify(event string, payload any) {
	select {
	case c.send <- pushMessage{Event: event, Data: payload}:
	case <-c.done:
	default:
		c.logger.Debug("dropping push to slow subscriber", "event", event)
	}
}

// readPump consumes control messages until the connection drops. Loss of
// the connection is a normal leave from every joined group.
func (c *Client) readPump() {
	defer func() {
		c.hub.LeaveAll(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("ignoring malformed control message", "error", err)
			continue
		}

		switch msg.Event {
		case "join_project_updates":
			if msg.ProjectID != "" {
				c.hub.Join(msg.ProjectID, c)
			}
		case "leave_project_updates":
			if msg.ProjectID != "" {
				c.hub.Leave(msg.ProjectID, c)
			}
		default:
			c.logger.Debug("ignoring unknown control message", "event", msg.Event)
		}
	}
}

// writePump owns all writes on the connection: queued pushes plus the
// keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
