package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/loop"
)

// LoopHandler implements GET /aggregate/loop/results.
type LoopHandler struct {
	c *container.Container
}

func NewLoopHandler(c *container.Container) *LoopHandler {
	return &LoopHandler{c: c}
}

// Results handles GET /aggregate/loop/results?execution_id=&step_name=: it
// returns the completed per-iteration outputs of a loop body step, resolving
// any CAS-offloaded result (SPEC_FULL.md §3.5) transparently.
func (h *LoopHandler) Results(c echo.Context) error {
	executionID := c.QueryParam("execution_id")
	stepName := c.QueryParam("step_name")
	if executionID == "" || stepName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id and step_name required")
	}

	ctx := c.Request().Context()
	events, err := h.c.Events.GetEvents(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load events")
	}

	iterations := loop.CompletedIterations(events, stepName, "")
	results := make([]interface{}, 0, len(iterations))
	for _, e := range iterations {
		resolved, err := cas.Resolve(ctx, h.c.CAS, e.OutputResult)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve cas reference")
		}
		results = append(results, resolved.Native())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}
