package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
)

// ExecutionHandler implements GET /executions and GET /executions/{id}.
type ExecutionHandler struct {
	c *container.Container
}

func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

// executionSummary is the response shape for both endpoints: an
// Execution plus its computed progress percentage.
type executionSummary struct {
	ExecutionID     string  `json:"execution_id"`
	PlaybookPath    string  `json:"playbook_path"`
	PlaybookVersion string  `json:"playbook_version"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
}

// List handles GET /executions.
func (h *ExecutionHandler) List(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := c.Request().Context()
	executions, err := h.c.Events.ListExecutions(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list executions")
	}

	out := make([]executionSummary, 0, len(executions))
	for _, exec := range executions {
		events, err := h.c.Events.GetEvents(ctx, exec.ExecutionID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute progress")
		}
		out = append(out, executionSummary{
			ExecutionID:     exec.ExecutionID,
			PlaybookPath:    exec.PlaybookPath,
			PlaybookVersion: exec.PlaybookVersion,
			Status:          string(exec.Status),
			ProgressPercent: computeProgress(exec.Status, events),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /executions/{id}.
func (h *ExecutionHandler) Get(c echo.Context) error {
	executionID := c.Param("id")
	ctx := c.Request().Context()

	exec, ok, err := h.c.Events.GetExecution(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load execution")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	events, err := h.c.Events.GetEvents(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load events")
	}

	return c.JSON(http.StatusOK, executionSummary{
		ExecutionID:     exec.ExecutionID,
		PlaybookPath:    exec.PlaybookPath,
		PlaybookVersion: exec.PlaybookVersion,
		Status:          string(exec.Status),
		ProgressPercent: computeProgress(exec.Status, events),
	})
}
