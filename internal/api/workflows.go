package api

import (
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"

	"pipeline-cloud/backend/internal/auth"
	"pipeline-cloud/backend/internal/services"
	"pipeline-cloud/backend/pkg/models"
)

// RegisterRoutes mounts the workflow API onto the group. User endpoints go
// through the user-token middleware, the runner callbacks through the
// worker credentials.
func (s *Server) RegisterRoutes(g *echo.Group, authz *auth.Auth) {
	user := g.Group("", authz.RequireUser())
	user.GET("/workflows", s.ListWorkflows)
	user.GET("/workflows/count", s.CountWorkflows)
	user.GET("/workflows/definitions", s.ListDefinitions)
	user.GET("/workflows/definitions/:name/arguments", s.DefinitionArguments)
	user.GET("/workflows/:id", s.GetWorkflow)
	user.POST("/workflows/create", s.CreateWorkflow)
	user.POST("/workflows/:id/update", s.UpdateWorkflow)
	user.POST("/workflows/:id/delete", s.DeleteWorkflow)
	user.POST("/workflows/:id/schedule", s.ScheduleWorkflow)

	worker := g.Group("", authz.RequireWorker())
	worker.POST("/workflows/:id/finished", s.FinishedWorkflow)
	worker.POST("/workflows/:id/nextflow-log", s.NextflowLog)
}

// ListWorkflows returns a page of run summaries.
// (GET /api/workflows?offset&limit)
func (s *Server) ListWorkflows(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := s.Service.ListRuns(c.Request().Context(), offset, limit)
	if err != nil {
		return s.respondError(c, err)
	}
	if runs == nil {
		runs = []*models.WorkflowRun{}
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": runs})
}

// CountWorkflows returns the total run count.
// (GET /api/workflows/count)
func (s *Server) CountWorkflows(c echo.Context) error {
	count, err := s.Service.CountRuns(c.Request().Context())
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// GetWorkflow returns one run, 404 if absent.
// (GET /api/workflows/{id})
func (s *Server) GetWorkflow(c echo.Context) error {
	run, err := s.Service.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

type createWorkflowRequest struct {
	Name string `json:"name"`
}

// CreateWorkflow creates an unscheduled run.
// (POST /api/workflows/create)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		verrs := models.ValidationErrors{}
		verrs.Add("general", "invalid request body")
		return s.respondError(c, verrs)
	}

	run, err := s.Service.CreateRun(c.Request().Context(), req.Name)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

type updateWorkflowRequest struct {
	Name            *string                    `json:"name"`
	RunnerReference *string                    `json:"runner_reference"`
	Arguments       map[string]models.Argument `json:"arguments"`
}

// UpdateWorkflow mutates name, runner reference or arguments.
// (POST /api/workflows/{id}/update)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var req updateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		verrs := models.ValidationErrors{}
		verrs.Add("general", "invalid request body")
		return s.respondError(c, verrs)
	}

	run, err := s.Service.UpdateRun(c.Request().Context(), c.Param("id"), services.UpdateRunParams{
		Name:            req.Name,
		RunnerReference: req.RunnerReference,
		Arguments:       req.Arguments,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// DeleteWorkflow removes a run.
// (POST /api/workflows/{id}/delete)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Service.DeleteRun(c.Request().Context(), c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

// ScheduleWorkflow hands the run off to the work queue.
// (POST /api/workflows/{id}/schedule)
func (s *Server) ScheduleWorkflow(c echo.Context) error {
	run, err := s.Service.Schedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"is_scheduled": run.IsScheduled})
}

// FinishedWorkflow is the worker's end-of-run callback.
// (POST /api/workflows/{id}/finished)
func (s *Server) FinishedWorkflow(c echo.Context) error {
	if err := s.Service.Finished(c.Request().Context(), c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// NextflowLog ingests one runner log event.
// (POST /api/workflows/{id}/nextflow-log)
func (s *Server) NextflowLog(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		verrs := models.ValidationErrors{}
		verrs.Add("event", "unreadable request body")
		return s.respondError(c, verrs)
	}

	if err := s.Service.ReportLogEvent(c.Request().Context(), c.Param("id"), body); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// ListDefinitions returns the names of the configured workflow
// definitions.
// (GET /api/workflows/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	names := make([]string, 0, len(s.Config.Workflows))
	for name := range s.Config.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(http.StatusOK, map[string]any{"workflows": names})
}

// DefinitionArguments returns the argument descriptors of one definition.
// (GET /api/workflows/definitions/{name}/arguments)
func (s *Server) DefinitionArguments(c echo.Context) error {
	def, ok := s.Config.Workflows[c.Param("name")]
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, map[string]any{"arguments": def.Arguments})
}
