// Package api contains the HTTP handlers for the workflow coordination
// service.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"pipeline-cloud/backend/internal/config"
	"pipeline-cloud/backend/internal/services"
	"pipeline-cloud/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Service *services.WorkflowService
	Config  *config.Config
	Logger  *slog.Logger
}

// NewServer creates a new Server.
func NewServer(service *services.WorkflowService, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{Service: service, Config: cfg, Logger: logger}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "pipeline-cloud",
		Version:   "1.0.0",
	})
}

// respondError maps domain errors onto the wire: 404 with empty body for
// missing runs, 422 with field-keyed detail for validation failures, 500
// with a generic body otherwise. Internal detail is logged, not leaked.
func (s *Server) respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyScheduled):
		// The legacy client keys on this exact message for an already
		// scheduled run.
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string]string{"general": "workflow not found"},
		})
	}
	if verrs, ok := services.IsValidationError(err); ok {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"errors": verrs,
		})
	}

	s.Logger.Error("request failed",
		"method", c.Request().Method,
		"path", c.Path(),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"errors": map[string]string{"general": "internal server error"},
	})
}
