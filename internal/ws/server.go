// Package ws exposes the persistent duplex channel clients use to follow
// run progress. Clients join and leave per-run update groups with control
// messages; the server pushes new-progress and finished-workflow events.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"pipeline-cloud/backend/internal/hub"
)

// Server upgrades HTTP requests to websocket subscriber connections.
type Server struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server bound to the hub.
func NewServer(h *hub.Hub, logger *slog.Logger) *Server {
	return &Server{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The browser client is served from a different origin in
				// every deployment we run.
				return true
			},
		},
	}
}

// Handle is the echo handler for the websocket endpoint.
func (s *Server) Handle(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", c.RealIP())
		return nil
	}
	s.logger.Debug("websocket connection established", "remote", c.RealIP())

	client := newClient(conn, s.hub, s.logger)
	go client.writePump()
	go client.readPump()
	return nil
}
